package xlink

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kepler.sh/dashdl/mpd"
)

// Scenario 6: a Period with xlink:href=resolve-to-zero is removed before
// selection.
func TestResolveToZeroRemovesElement(t *testing.T) {
	body := `<MPD>
	<Period id="0"/>
	<Period id="1" xmlns:xlink="http://www.w3.org/1999/xlink" xlink:href="urn:mpeg:dash:resolve-to-zero:2013" xlink:actuate="onLoad"/>
	<Period id="2"/>
	</MPD>`
	m, err := mpd.Parse(strings.NewReader(body), "https://example.com/m.mpd")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Period) != 3 {
		t.Fatalf("want 3 periods pre-resolve, got %d", len(m.Period))
	}

	r := New(func(ctx context.Context, href string) ([]byte, error) {
		t.Fatal("resolve-to-zero must not fetch")
		return nil, nil
	})
	if err := r.Resolve(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if len(m.Period) != 2 {
		t.Fatalf("want 2 periods post-resolve, got %d", len(m.Period))
	}
	if m.Period[0].ID != "0" || m.Period[1].ID != "2" {
		t.Fatalf("want periods 0,2 remaining, got %q,%q", m.Period[0].ID, m.Period[1].ID)
	}
}

func TestResolveSplicesRemoteFragment(t *testing.T) {
	body := `<MPD xmlns:xlink="http://www.w3.org/1999/xlink">
	<Period id="0" xlink:href="https://example.com/frag.xml" xlink:actuate="onLoad"/>
	</MPD>`
	m, err := mpd.Parse(strings.NewReader(body), "https://example.com/m.mpd")
	if err != nil {
		t.Fatal(err)
	}

	fragment := `<Period id="a"/><Period id="b"/><Period id="c"/>`
	r := New(func(ctx context.Context, href string) ([]byte, error) {
		if href != "https://example.com/frag.xml" {
			t.Fatalf("unexpected href %q", href)
		}
		return []byte(fragment), nil
	})
	if err := r.Resolve(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if len(m.Period) != 3 {
		t.Fatalf("want 3 spliced periods, got %d", len(m.Period))
	}
	for i, want := range []string{"a", "b", "c"} {
		if m.Period[i].ID != want {
			t.Errorf("period[%d].ID = %q, want %q", i, m.Period[i].ID, want)
		}
	}
}

func TestResolveOneFailingHrefDropsOnlyThatSubtree(t *testing.T) {
	body := `<MPD xmlns:xlink="http://www.w3.org/1999/xlink">
	<Period id="0" xlink:href="https://example.com/bad.xml" xlink:actuate="onLoad"/>
	<Period id="1"/>
	<Period id="2" xlink:href="https://example.com/good.xml" xlink:actuate="onLoad"/>
	</MPD>`
	m, err := mpd.Parse(strings.NewReader(body), "https://example.com/m.mpd")
	if err != nil {
		t.Fatal(err)
	}

	r := New(func(ctx context.Context, href string) ([]byte, error) {
		if href == "https://example.com/bad.xml" {
			return nil, errors.New("503 service unavailable")
		}
		return []byte(`<Period id="2a"/>`), nil
	})
	if err := r.Resolve(context.Background(), m); err != nil {
		t.Fatalf("want siblings to keep resolving despite one failure, got %v", err)
	}
	if len(m.Period) != 2 {
		t.Fatalf("want 2 periods (id 1 kept, id 0 dropped, id 2 spliced), got %d: %v", len(m.Period), m.Period)
	}
	if m.Period[0].ID != "1" || m.Period[1].ID != "2a" {
		t.Fatalf("want periods 1,2a remaining, got %q,%q", m.Period[0].ID, m.Period[1].ID)
	}
	if len(r.Warnings) != 1 {
		t.Fatalf("want 1 warning recorded, got %d: %v", len(r.Warnings), r.Warnings)
	}
}

func TestResolveDepthCapSurfacesError(t *testing.T) {
	body := `<MPD xmlns:xlink="http://www.w3.org/1999/xlink">
	<Period id="0" xlink:href="https://example.com/frag.xml" xlink:actuate="onLoad"/>
	</MPD>`
	m, err := mpd.Parse(strings.NewReader(body), "https://example.com/m.mpd")
	if err != nil {
		t.Fatal(err)
	}

	// Every fragment re-references itself, so an unbounded resolver would
	// loop forever; the depth cap must stop it.
	r := New(func(ctx context.Context, href string) ([]byte, error) {
		return []byte(`<Period id="x" xlink:href="https://example.com/frag.xml" xlink:actuate="onLoad"/>`), nil
	})
	r.MaxDepth = 3
	if err := r.Resolve(context.Background(), m); err == nil {
		t.Fatal("want error once max depth is exceeded")
	}
}
