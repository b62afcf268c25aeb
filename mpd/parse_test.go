package mpd

import (
	"strings"
	"testing"
)

func TestParsePeriodTiming(t *testing.T) {
	body := `<MPD mediaPresentationDuration="PT60S">
	<Period id="0"/>
	<Period id="1" start="PT30S"/>
	</MPD>`
	m, err := Parse(strings.NewReader(body), "https://example.com/m.mpd")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Period) != 2 {
		t.Fatalf("want 2 periods, got %d", len(m.Period))
	}
	if m.Period[0].EffectiveStart != 0 {
		t.Errorf("period0 start = %v, want 0", m.Period[0].EffectiveStart)
	}
	if m.Period[0].EffectiveDuration != 30 {
		t.Errorf("period0 duration = %v, want 30", m.Period[0].EffectiveDuration)
	}
	if m.Period[1].EffectiveDuration != 30 {
		t.Errorf("period1 duration = %v, want 30", m.Period[1].EffectiveDuration)
	}
}

func TestParseDurationFractional(t *testing.T) {
	d, err := ParseDuration("PT1M3.6S")
	if err != nil {
		t.Fatalf("ParseDuration: %v", err)
	}
	want := 63600 * 1e6 // nanoseconds: 63.6s
	if d.Nanoseconds() != int64(want) {
		t.Errorf("got %v, want 63.6s", d)
	}
}

func TestWireParents(t *testing.T) {
	body := `<MPD><Period><AdaptationSet lang="en"><Representation id="r0"/></AdaptationSet></Period></MPD>`
	m, err := Parse(strings.NewReader(body), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rep := m.Period[0].AdaptationSet[0].Representation[0]
	if rep.Parent == nil || rep.Parent.Lang != "en" {
		t.Fatalf("Representation.Parent not wired")
	}
	if rep.Parent.Parent != m.Period[0] {
		t.Fatalf("AdaptationSet.Parent not wired")
	}
}

func TestDecodeDataURLBase64(t *testing.T) {
	data, err := DecodeDataURL("data:application/mp4;base64,aGVsbG8=")
	if err != nil {
		t.Fatalf("DecodeDataURL: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("got %q, want %q", data, "hello")
	}
}

func TestResolveToZero(t *testing.T) {
	p := Period{XLink: XLink{Href: ResolveToZeroURN}}
	if !p.IsResolveToZero() {
		t.Fatal("expected resolve-to-zero")
	}
}
