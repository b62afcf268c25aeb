// Package addressing is the Addressing Resolver: it converts a
// Representation's segment description, after inheritance flattening,
// into an ordered, finite list of SegmentRefs.
package addressing

import (
	"fmt"
	"math"

	"kepler.sh/dashdl/internal/baseurl"
	"kepler.sh/dashdl/mpd"
)

// SegmentRef is the ephemeral, derived unit of work the Segment Fetcher
// consumes: one HTTP(S) request (or, for a data: URL init segment, one
// inline decode), absolute, in presentation order, init segment first.
type SegmentRef struct {
	URL      string
	ByteLo   int64
	ByteHi   int64
	HasRange bool
	IsInit   bool
	Index    int
}

// effectiveTemplate is the per-level override struct: each inheritance
// level (Representation, AdaptationSet, Period) produces one by
// field-wise merge with its parent, resolved once before addressing.
type effectiveTemplate struct {
	Media          string
	Initialization string
	Timescale      int
	Duration       float64
	StartNumber    int
	Timeline       *mpd.SegmentTimeline
}

func mergeTemplate(child, parent *mpd.SegmentTemplate) *effectiveTemplate {
	eff := &effectiveTemplate{StartNumber: 1, Timescale: 1}
	apply := func(t *mpd.SegmentTemplate) {
		if t == nil {
			return
		}
		if t.Media != "" {
			eff.Media = t.Media
		}
		if t.Initialization != "" {
			eff.Initialization = t.Initialization
		}
		if t.Timescale != 0 {
			eff.Timescale = t.Timescale
		}
		if t.Duration != 0 {
			eff.Duration = t.Duration
		}
		if t.StartNumber != nil {
			eff.StartNumber = *t.StartNumber
		}
		if t.SegmentTimeline != nil {
			eff.Timeline = t.SegmentTimeline
		}
	}
	apply(parent)
	apply(child)
	return eff
}

// Resolve emits the ordered SegmentRef list for rep, walking up to the
// AdaptationSet and Period for inherited segment descriptions and
// BaseURLs. periodDuration is in seconds (mpd.Period.EffectiveDuration).
func Resolve(rep *mpd.Representation, manifestURL string, periodDuration float64) ([]SegmentRef, error) {
	root, err := baseurl.Root(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("addressing: %w", err)
	}
	as := rep.Parent
	var period *mpd.Period
	if as != nil {
		period = as.Parent
	}

	ctx := root
	if period != nil {
		if ctx, err = ctx.Push(period.BaseURL); err != nil {
			return nil, fmt.Errorf("addressing: period baseURL: %w", err)
		}
	}
	if as != nil {
		if ctx, err = ctx.Push(as.BaseURL); err != nil {
			return nil, fmt.Errorf("addressing: adaptationSet baseURL: %w", err)
		}
	}
	if ctx, err = ctx.Push(rep.BaseURL); err != nil {
		return nil, fmt.Errorf("addressing: representation baseURL: %w", err)
	}

	switch {
	case rep.SegmentBase != nil:
		return resolveSegmentBase(rep, ctx)
	case rep.SegmentList != nil:
		return resolveSegmentList(rep, ctx)
	default:
		var periodTmpl *mpd.SegmentTemplate
		if period != nil {
			periodTmpl = period.SegmentTemplate
		}
		var asTmpl *mpd.SegmentTemplate
		if as != nil {
			asTmpl = as.SegmentTemplate
		}
		merged := mergeTemplate(asTmpl, periodTmpl)
		eff := mergeTemplate(rep.SegmentTemplate, &mpd.SegmentTemplate{
			Media: merged.Media, Initialization: merged.Initialization,
			Timescale: merged.Timescale, Duration: merged.Duration,
			StartNumber: intPtr(merged.StartNumber), SegmentTimeline: merged.Timeline,
		})
		if eff.Media == "" {
			return nil, fmt.Errorf("addressing: representation %q has no segment description", rep.ID)
		}
		return resolveSegmentTemplate(rep, ctx, eff, periodDuration)
	}
}

func intPtr(v int) *int { return &v }

func resolveSegmentBase(rep *mpd.Representation, ctx *baseurl.Context) ([]SegmentRef, error) {
	var refs []SegmentRef
	base := ctx.String()
	if init := rep.SegmentBase.Initialization; init != nil {
		initURL := base
		var err error
		if init.SourceURL != "" {
			if initURL, err = ctx.Resolve(init.SourceURL); err != nil {
				return nil, err
			}
		}
		ref := SegmentRef{URL: initURL, IsInit: true}
		if init.Range != "" {
			lo, hi, err := parseByteRange(init.Range)
			if err != nil {
				return nil, err
			}
			ref.ByteLo, ref.ByteHi, ref.HasRange = lo, hi, true
		}
		refs = append(refs, ref)
	}
	// SegmentBase addresses the whole Representation file as a single
	// SegmentRef without byte range; indexRange-indexed downloads are not
	// split into multiple requests.
	refs = append(refs, SegmentRef{URL: base, Index: len(refs)})
	return refs, nil
}

func resolveSegmentList(rep *mpd.Representation, ctx *baseurl.Context) ([]SegmentRef, error) {
	var refs []SegmentRef
	list := rep.SegmentList
	if init := list.Initialization; init != nil {
		initURL := ctx.String()
		var err error
		if init.SourceURL != "" {
			if initURL, err = ctx.Resolve(init.SourceURL); err != nil {
				return nil, err
			}
		}
		refs = append(refs, SegmentRef{URL: initURL, IsInit: true})
	}
	for _, su := range list.SegmentURL {
		media := su.Media
		if media == "" {
			// No @media: fall back to the current BaseURL context, which
			// already carries manifest query inheritance.
			media = ctx.String()
		}
		u, err := ctx.Resolve(media)
		if err != nil {
			return nil, err
		}
		ref := SegmentRef{URL: u, Index: len(refs)}
		if su.MediaRange != "" {
			lo, hi, err := parseByteRange(su.MediaRange)
			if err != nil {
				return nil, err
			}
			ref.ByteLo, ref.ByteHi, ref.HasRange = lo, hi, true
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func resolveSegmentTemplate(rep *mpd.Representation, ctx *baseurl.Context, eff *effectiveTemplate, periodDuration float64) ([]SegmentRef, error) {
	var refs []SegmentRef
	repID := rep.ID
	bandwidth := rep.Bandwidth

	if eff.Initialization != "" {
		raw := substituteTemplate(eff.Initialization, substituteParams{representationID: repID, bandwidth: bandwidth})
		u, err := ctx.Resolve(raw)
		if err != nil {
			return nil, err
		}
		refs = append(refs, SegmentRef{URL: u, IsInit: true})
	}

	var numbers []int64
	var times []int64
	if eff.Timeline != nil {
		n, t, err := expandTimeline(eff, periodDuration)
		if err != nil {
			return nil, err
		}
		numbers, times = n, t
	} else {
		if eff.Duration <= 0 {
			return nil, fmt.Errorf("addressing: representation %q: $Number$ template missing @duration", repID)
		}
		total := int(math.Ceil(periodDuration * float64(eff.Timescale) / eff.Duration))
		for i := 0; i < total; i++ {
			numbers = append(numbers, int64(eff.StartNumber+i))
		}
	}

	for i, num := range numbers {
		var t int64
		if times != nil {
			t = times[i]
		}
		raw := substituteTemplate(eff.Media, substituteParams{
			representationID: repID, bandwidth: bandwidth, number: num, time: t,
		})
		u, err := ctx.Resolve(raw)
		if err != nil {
			return nil, err
		}
		refs = append(refs, SegmentRef{URL: u, Index: len(refs)})
	}
	return refs, nil
}

// expandTimeline walks the S entries of a SegmentTimeline (the decoding
// invariants): absent @t starts the first S at 0 and every later S where
// the previous one ended; r=-1 fills to the next S's @t or Period end.
func expandTimeline(eff *effectiveTemplate, periodDuration float64) (numbers, times []int64, err error) {
	entries := eff.Timeline.S
	periodEndTicks := int64(periodDuration * float64(eff.Timescale))
	var cursor int64
	number := int64(eff.StartNumber)

	for idx, s := range entries {
		t := cursor
		if s.T != nil {
			t = *s.T
		}
		cursor = t
		if s.D <= 0 {
			return nil, nil, fmt.Errorf("addressing: SegmentTimeline S[%d] has non-positive @d", idx)
		}
		var count int
		switch {
		case s.R >= 0:
			count = s.R + 1
		default:
			until := periodEndTicks
			if idx+1 < len(entries) && entries[idx+1].T != nil {
				until = *entries[idx+1].T
			}
			count = int(math.Ceil(float64(until-t) / float64(s.D)))
			if count < 1 {
				count = 1
			}
		}
		for i := 0; i < count; i++ {
			times = append(times, cursor)
			numbers = append(numbers, number)
			cursor += s.D
			number++
		}
	}
	return numbers, times, nil
}
