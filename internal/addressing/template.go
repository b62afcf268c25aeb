package addressing

import (
	"regexp"
	"strconv"
	"strings"
)

// dollarSentinel protects literal "$$" escapes from the variable regex
// below; substitution is documented as a single pass, so the
// sentinel is restored to "$" only after every $Var$ has been replaced.
const dollarSentinel = "\x00$\x00"

var templateVarRe = regexp.MustCompile(`\$(RepresentationID|Number|Bandwidth|Time)(?:%0(\d+)d)?\$`)

// substituteParams carries the values a $Var$ token may resolve to; zero
// values are fine for templates that don't reference them.
type substituteParams struct {
	representationID string
	bandwidth        int
	number           int64
	time             int64
}

// substituteTemplate performs the $RepresentationID$/$Number$/$Time$/
// $Bandwidth$/$$ substitution, including the "$Name%0Nd$" zero-pad width
// specifier.
func substituteTemplate(pattern string, p substituteParams) string {
	protected := strings.ReplaceAll(pattern, "$$", dollarSentinel)
	out := templateVarRe.ReplaceAllStringFunc(protected, func(m string) string {
		sub := templateVarRe.FindStringSubmatch(m)
		name, width := sub[1], sub[2]
		var val string
		switch name {
		case "RepresentationID":
			val = p.representationID
		case "Bandwidth":
			val = strconv.Itoa(p.bandwidth)
		case "Number":
			val = strconv.FormatInt(p.number, 10)
		case "Time":
			val = strconv.FormatInt(p.time, 10)
		}
		if width != "" {
			n, _ := strconv.Atoi(width)
			neg := strings.HasPrefix(val, "-")
			if neg {
				val = val[1:]
			}
			for len(val) < n {
				val = "0" + val
			}
			if neg {
				val = "-" + val
			}
		}
		return val
	})
	return strings.ReplaceAll(out, dollarSentinel, "$")
}
