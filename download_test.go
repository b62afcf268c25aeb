package dashdl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"kepler.sh/dashdl/internal/track"
)

func TestNewDefaults(t *testing.T) {
	d := New()
	if !d.prefs.FetchAudio || !d.prefs.FetchVideo {
		t.Fatal("want audio+video fetched by default")
	}
	if d.prefs.FetchSubtitles {
		t.Fatal("want subtitles off by default")
	}
	if d.prefs.Quality != track.QualityBest {
		t.Fatalf("want QualityBest default, got %v", d.prefs.Quality)
	}
	if !d.conformityChecks || !d.concatenatePeriods || !d.failFast {
		t.Fatal("want conformity checks, concatenation and fail-fast on by default")
	}
	if d.fragmentRetryCount != 10 || d.maxErrorCount != 30 {
		t.Fatalf("unexpected retry defaults: %d %d", d.fragmentRetryCount, d.maxErrorCount)
	}
}

func TestChainedSettersReturnSameDownloader(t *testing.T) {
	d := New().
		Quality(track.QualityWorst).
		PreferLanguage("en-US").
		AudioOnly().
		FragmentRetryCount(3).
		WithAuthBearer("tok123").
		WithReferer("https://example.test/")

	if d.prefs.Quality != track.QualityWorst {
		t.Error("Quality not applied")
	}
	if d.prefs.Language != "en-US" {
		t.Error("PreferLanguage not applied")
	}
	if !d.prefs.FetchAudio || d.prefs.FetchVideo {
		t.Error("AudioOnly did not disable video")
	}
	if d.fragmentRetryCount != 3 {
		t.Error("FragmentRetryCount not applied")
	}
	if got := d.header().Get("Authorization"); got != "Bearer tok123" {
		t.Errorf("bearer header = %q", got)
	}
	if got := d.header().Get("Referer"); got != "https://example.test/" {
		t.Errorf("referer header = %q", got)
	}
}

func TestWithAuthSetsBasicAuthHeader(t *testing.T) {
	d := New().WithAuth("alice", "s3cret")
	got := d.header().Get("Authorization")
	if got == "" || got[:6] != "Basic " {
		t.Fatalf("want Basic auth header, got %q", got)
	}
}

func TestSplitCSV(t *testing.T) {
	cases := map[string][]string{
		"":              nil,
		"a":             {"a"},
		"a,b,c":         {"a", "b", "c"},
		"a,,b":          {"a", "b"},
		"ffmpeg,vlc,  ": {"ffmpeg", "vlc", "  "},
	}
	for in, want := range cases {
		got := splitCSV(in)
		if len(got) != len(want) {
			t.Errorf("splitCSV(%q) = %#v, want %#v", in, got, want)
			continue
		}
		for i := range got {
			if got[i] != want[i] {
				t.Errorf("splitCSV(%q)[%d] = %q, want %q", in, i, got[i], want[i])
			}
		}
	}
}

func TestHexEncode(t *testing.T) {
	got := hexEncode([]byte{0x00, 0xab, 0xff})
	if got != "00abff" {
		t.Fatalf("hexEncode = %q, want 00abff", got)
	}
}

func TestRateLimiterNilWhenUnset(t *testing.T) {
	d := New()
	if d.rateLimiter() != nil {
		t.Fatal("want nil limiter when WithRateLimit was never called")
	}
	d.WithRateLimit(1024)
	if d.rateLimiter() == nil {
		t.Fatal("want non-nil limiter after WithRateLimit")
	}
}

func TestResolveHTTPClientAssignsCookieJar(t *testing.T) {
	d := New()
	c := d.resolveHTTPClient()
	if c.Jar == nil {
		t.Fatal("want a cookie jar on the default client")
	}
	if d.resolveHTTPClient() != c {
		t.Fatal("want the same client reused across calls")
	}
}

func TestRunDirUsesSaveFragmentsTo(t *testing.T) {
	base := t.TempDir()
	d := New().SaveFragmentsTo(base)
	dir, cleanup := d.runDir()
	defer cleanup()

	if filepath.Dir(dir) != base {
		t.Fatalf("runDir %q not under %q", dir, base)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("runDir was not created: %v", err)
	}
}

func TestRunDirCleansUpWhenNotKept(t *testing.T) {
	d := New()
	dir, cleanup := d.runDir()
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("runDir was not created: %v", err)
	}
	cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("want runDir removed after cleanup, stat err = %v", err)
	}
}

func TestFetchManifestSendsAcceptAndAuthHeaders(t *testing.T) {
	var gotAccept, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("<MPD></MPD>"))
	}))
	defer srv.Close()

	d := New().WithAuthBearer("xyz")
	client := d.resolveHTTPClient()
	body, err := d.fetchManifest(context.Background(), client, srv.URL)
	if err != nil {
		t.Fatalf("fetchManifest: %v", err)
	}
	if string(body) != "<MPD></MPD>" {
		t.Fatalf("unexpected body: %q", body)
	}
	if gotAccept == "" {
		t.Error("want an Accept header sent")
	}
	if gotAuth != "Bearer xyz" {
		t.Errorf("Authorization = %q, want Bearer xyz", gotAuth)
	}
}

func TestFetchManifestNon2xxIsHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := New()
	client := d.resolveHTTPClient()
	_, err := d.fetchManifest(context.Background(), client, srv.URL)
	var statusErr *HTTPStatusError
	if err == nil {
		t.Fatal("want an error for a 404 response")
	}
	if se, ok := err.(*HTTPStatusError); !ok || se.Code != http.StatusNotFound {
		_ = statusErr
		t.Fatalf("want *HTTPStatusError{404}, got %#v", err)
	}
}

func TestDownloadRejectsDynamicManifestByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<MPD type="dynamic" xmlns="urn:mpeg:dash:schema:mpd:2011"></MPD>`))
	}))
	defer srv.Close()

	_, err := New().Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "out.mp4"))
	if err == nil {
		t.Fatal("want an error for a dynamic manifest with AllowLiveStreams unset")
	}
}
