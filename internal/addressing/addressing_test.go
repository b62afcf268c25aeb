package addressing

import (
	"strings"
	"testing"

	"kepler.sh/dashdl/mpd"
)

func repWithTemplate(tmpl *mpd.SegmentTemplate) *mpd.Representation {
	as := &mpd.AdaptationSet{}
	period := &mpd.Period{}
	as.Parent = period
	rep := &mpd.Representation{ID: "v0", Bandwidth: 500000, SegmentTemplate: tmpl}
	rep.Parent = as
	return rep
}

// Scenario 2: startNumber=1, timescale=90000, duration=540000, PT30S ->
// 5 media segments numbered 1..5 plus init.
func TestNumberTemplateOffByOne(t *testing.T) {
	tmpl := &mpd.SegmentTemplate{
		Media:          "seg-$Number$.m4s",
		Initialization: "init.mp4",
		Timescale:      90000,
		Duration:       540000,
	}
	rep := repWithTemplate(tmpl)
	refs, err := Resolve(rep, "https://x/m.mpd", 30)
	if err != nil {
		t.Fatal(err)
	}
	if !refs[0].IsInit {
		t.Fatalf("first ref must be init")
	}
	media := refs[1:]
	if len(media) != 5 {
		t.Fatalf("want 5 media segments, got %d", len(media))
	}
	for i, r := range media {
		want := "seg-" + itoa(i+1) + ".m4s"
		if !strings.HasSuffix(r.URL, want) {
			t.Errorf("segment %d url = %s, want suffix %s", i, r.URL, want)
		}
	}
}

// Scenario 3: <S t="0" d="90000" r="-1"/> within PT10S at timescale 90000
// -> 10 media segments.
func TestNegativeRepeatFillsToPeriodEnd(t *testing.T) {
	zero := int64(0)
	tmpl := &mpd.SegmentTemplate{
		Media:     "seg-$Time$.m4s",
		Timescale: 90000,
		SegmentTimeline: &mpd.SegmentTimeline{
			S: []mpd.TimelineEntry{{T: &zero, D: 90000, R: -1}},
		},
	}
	rep := repWithTemplate(tmpl)
	refs, err := Resolve(rep, "https://x/m.mpd", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 10 {
		t.Fatalf("want 10 media segments, got %d", len(refs))
	}
	for i, r := range refs {
		want := "seg-" + itoa(i*90000) + ".m4s"
		if !strings.HasSuffix(r.URL, want) {
			t.Errorf("segment %d url = %s, want suffix %s", i, r.URL, want)
		}
	}
}

// Scenario 4: manifest URL carries a query string; a segment URL without
// its own query inherits it.
func TestQueryPropagation(t *testing.T) {
	tmpl := &mpd.SegmentTemplate{
		Media:       "seg/$Number$.m4v",
		Timescale:   1,
		Duration:    1,
		StartNumber: intPtr(1),
	}
	rep := repWithTemplate(tmpl)
	refs, err := Resolve(rep, "https://x/m.mpd?tok=abc", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(refs[0].URL, "seg/1.m4v?tok=abc") {
		t.Errorf("first segment url = %s, want suffix seg/1.m4v?tok=abc", refs[0].URL)
	}
}

func TestZeroPadWidthSpecifier(t *testing.T) {
	tmpl := &mpd.SegmentTemplate{
		Media:       "seg-$Number%05d$.m4s",
		Timescale:   1,
		Duration:    1,
		StartNumber: intPtr(7),
	}
	rep := repWithTemplate(tmpl)
	refs, err := Resolve(rep, "https://x/m.mpd", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(refs[0].URL, "seg-00007.m4s") {
		t.Errorf("url = %s, want suffix seg-00007.m4s", refs[0].URL)
	}
}

func TestSegmentBaseEmitsSingleUnsplitRef(t *testing.T) {
	as := &mpd.AdaptationSet{}
	rep := &mpd.Representation{
		ID: "v0",
		SegmentBase: &mpd.SegmentBase{
			IndexRange:     "0-863",
			Initialization: &mpd.URLReference{Range: "864-1200"},
		},
	}
	rep.Parent = as
	refs, err := Resolve(rep, "https://x/video.mp4", 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("want init + 1 media ref, got %d", len(refs))
	}
	if !refs[0].IsInit || !refs[0].HasRange {
		t.Errorf("refs[0] should be a ranged init ref")
	}
	if refs[1].HasRange {
		t.Errorf("SegmentBase media ref must not carry a byte range")
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
