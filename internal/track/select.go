// Package track is the Track Selector: it picks one audio, one
// video, and zero or more subtitle Representations per Period from user
// preferences.
package track

import (
	"fmt"
	"sort"
	"strings"

	"kepler.sh/dashdl/mpd"
)

// Quality names the quality-selection strategy.
type Quality int

const (
	QualityBest Quality = iota
	QualityWorst
	QualityIntermediate
	QualityPreferWidth
	QualityPreferHeight
)

// Preferences is the Track Selector's input, populated from the
// Downloader's builder options.
type Preferences struct {
	Language       string // RFC 5646 tag, empty = no preference
	Roles          []string
	Quality        Quality
	TargetWidth    int
	TargetHeight   int
	FetchAudio     bool
	FetchVideo     bool
	FetchSubtitles bool
}

// recognizedSubtitleMimeTypes lists the text containers the Period
// Assembler's subtitle post-processing step can actually handle.
var recognizedSubtitleMimeTypes = map[string]bool{
	"text/vtt":             true,
	"application/ttml+xml": true,
	"application/mp4":      true, // fragmented WVTT/STPP, disambiguated by codecs
	"application/x-subrip": true,
	"application/smil+xml": true,
}

// Selection is the per-Period outcome: at most one audio and one video
// Representation, plus every matching subtitle Representation.
type Selection struct {
	Audio     *mpd.Representation
	Video     *mpd.Representation
	Subtitles []*mpd.Representation
}

// ErrNoMatch is the UnhandledMediaStream error kind: no Representation
// satisfies the selection constraints for a track the caller asked to
// fetch.
type ErrNoMatch struct {
	ContentType string
}

func (e *ErrNoMatch) Error() string {
	return fmt.Sprintf("track: no %s representation matches the selection constraints", e.ContentType)
}

// Select runs the selection pipeline over every AdaptationSet in period.
func Select(period *mpd.Period, prefs Preferences) (Selection, error) {
	var sel Selection

	if prefs.FetchAudio {
		audioSets := byContentType(period.AdaptationSet, "audio")
		audioSets = filterByLanguage(audioSets, prefs.Language)
		audioSets = filterByRole(audioSets, prefs.Roles)
		rep := pickQuality(flattenReps(audioSets), prefs)
		if rep == nil {
			return sel, &ErrNoMatch{ContentType: "audio"}
		}
		sel.Audio = rep
	}

	if prefs.FetchVideo {
		videoSets := byContentType(period.AdaptationSet, "video")
		videoSets = filterByRole(videoSets, prefs.Roles)
		rep := pickQuality(flattenReps(videoSets), prefs)
		if rep == nil {
			return sel, &ErrNoMatch{ContentType: "video"}
		}
		sel.Video = rep
	}

	if prefs.FetchSubtitles {
		textSets := byContentType(period.AdaptationSet, "text")
		textSets = filterByRecognizedMimeType(textSets)
		matched := filterByLanguage(textSets, prefs.Language)
		if len(matched) == 0 {
			matched = textSets
		}
		for _, as := range matched {
			sel.Subtitles = append(sel.Subtitles, as.Representation...)
		}
	}

	return sel, nil
}

func byContentType(sets []*mpd.AdaptationSet, contentType string) []*mpd.AdaptationSet {
	var out []*mpd.AdaptationSet
	for _, as := range sets {
		if as.ContentType == contentType || inferContentType(as) == contentType {
			out = append(out, as)
		}
	}
	return out
}

// inferContentType falls back to the mimeType prefix when @contentType is
// absent, which real-world manifests frequently omit.
func inferContentType(as *mpd.AdaptationSet) string {
	mt := as.MimeType
	if mt == "" && len(as.Representation) > 0 {
		mt = as.Representation[0].MimeType
	}
	if before, _, ok := strings.Cut(mt, "/"); ok {
		return before
	}
	return ""
}

// filterByLanguage restricts to AdaptationSets whose @lang best-matches
// (exact > language-only); falls through to all candidates if nothing
// matches.
func filterByLanguage(sets []*mpd.AdaptationSet, want string) []*mpd.AdaptationSet {
	if want == "" {
		return sets
	}
	var exact, languageOnly []*mpd.AdaptationSet
	wantBase, _, _ := strings.Cut(want, "-")
	for _, as := range sets {
		if strings.EqualFold(as.Lang, want) {
			exact = append(exact, as)
			continue
		}
		asBase, _, _ := strings.Cut(as.Lang, "-")
		if strings.EqualFold(asBase, wantBase) {
			languageOnly = append(languageOnly, as)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	if len(languageOnly) > 0 {
		return languageOnly
	}
	return sets
}

// filterByRole applies the user's ordered role list: the first role in the
// list that any AdaptationSet declares wins; ties keep every set declaring
// that role. No match at all falls through to every candidate.
func filterByRole(sets []*mpd.AdaptationSet, roles []string) []*mpd.AdaptationSet {
	if len(roles) == 0 {
		return sets
	}
	for _, want := range roles {
		var matched []*mpd.AdaptationSet
		for _, as := range sets {
			for _, r := range as.Role {
				if r.Value == want {
					matched = append(matched, as)
					break
				}
			}
		}
		if len(matched) > 0 {
			return matched
		}
	}
	return sets
}

func filterByRecognizedMimeType(sets []*mpd.AdaptationSet) []*mpd.AdaptationSet {
	var out []*mpd.AdaptationSet
	for _, as := range sets {
		mt := as.MimeType
		if mt == "" && len(as.Representation) > 0 {
			mt = as.Representation[0].MimeType
		}
		if recognizedSubtitleMimeTypes[mt] {
			out = append(out, as)
		}
	}
	return out
}

func flattenReps(sets []*mpd.AdaptationSet) []*mpd.Representation {
	var out []*mpd.Representation
	for _, as := range sets {
		out = append(out, as.Representation...)
	}
	return out
}

// pickQuality applies the requested quality strategy. Ties fall back to
// pixel count then to id, stably preserving source order otherwise.
func pickQuality(reps []*mpd.Representation, prefs Preferences) *mpd.Representation {
	if len(reps) == 0 {
		return nil
	}
	switch prefs.Quality {
	case QualityPreferWidth:
		return argmin(reps, func(r *mpd.Representation) int { return abs(r.Width - prefs.TargetWidth) })
	case QualityPreferHeight:
		return argmin(reps, func(r *mpd.Representation) int { return abs(r.Height - prefs.TargetHeight) })
	case QualityIntermediate:
		return closestToMedian(reps)
	case QualityWorst:
		return extremum(reps, false)
	default:
		return extremum(reps, true)
	}
}

func rankValue(r *mpd.Representation) int {
	if r.QualityRanking != nil {
		// Smaller qualityRanking means higher quality; invert so "best" is
		// still a max() over this value like bandwidth is.
		return -*r.QualityRanking
	}
	return r.Bandwidth
}

func extremum(reps []*mpd.Representation, best bool) *mpd.Representation {
	sorted := append([]*mpd.Representation(nil), reps...)
	sort.SliceStable(sorted, func(i, j int) bool {
		vi, vj := rankValue(sorted[i]), rankValue(sorted[j])
		if vi != vj {
			if best {
				return vi > vj
			}
			return vi < vj
		}
		pi, pj := sorted[i].Width*sorted[i].Height, sorted[j].Width*sorted[j].Height
		if pi != pj {
			if best {
				return pi > pj
			}
			return pi < pj
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0]
}

func closestToMedian(reps []*mpd.Representation) *mpd.Representation {
	sorted := append([]*mpd.Representation(nil), reps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Bandwidth < sorted[j].Bandwidth })
	median := sorted[len(sorted)/2].Bandwidth
	return argmin(reps, func(r *mpd.Representation) int { return abs(r.Bandwidth - median) })
}

func argmin(reps []*mpd.Representation, key func(*mpd.Representation) int) *mpd.Representation {
	best := reps[0]
	bestVal := key(best)
	for _, r := range reps[1:] {
		if v := key(r); v < bestVal {
			best, bestVal = r, v
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
