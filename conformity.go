package dashdl

import "kepler.sh/dashdl/mpd"

// checkConformity runs a light pass over the parsed manifest, surfacing
// the kind of well-formed-but-inconsistent input that a Representation
// parses fine yet no real fetch/mux pipeline should trust: no bandwidth
// figure to pick a Representation by, or no way to derive a mimeType at
// all. Each violation becomes one ConformityError; the caller decides
// whether that's merely logged or fatal.
func checkConformity(m *mpd.MPD) []*ConformityError {
	var errs []*ConformityError

	if m.Type != "dynamic" && m.MediaPresentationDuration == "" {
		hasDuration := false
		for _, p := range m.Period {
			if p.EffectiveDuration > 0 {
				hasDuration = true
				break
			}
		}
		if !hasDuration {
			errs = append(errs, &ConformityError{
				Check:  "mediaPresentationDuration",
				Detail: "static manifest declares no overall or per-Period duration",
			})
		}
	}

	for _, p := range m.Period {
		for _, as := range p.AdaptationSet {
			for _, rep := range as.Representation {
				if rep.Bandwidth <= 0 {
					errs = append(errs, &ConformityError{
						Check:  "bandwidth",
						Detail: "Representation " + repLabel(rep, as) + " declares no @bandwidth",
					})
				}
				if rep.EffectiveMimeType() == "" {
					errs = append(errs, &ConformityError{
						Check:  "mimeType",
						Detail: "Representation " + repLabel(rep, as) + " has no mimeType at any inherited level",
					})
				}
			}
		}
	}
	return errs
}

func repLabel(rep *mpd.Representation, as *mpd.AdaptationSet) string {
	id := rep.ID
	if id == "" {
		id = "<unnamed>"
	}
	return "\"" + id + "\" (AdaptationSet \"" + as.ID + "\")"
}
