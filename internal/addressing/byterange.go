package addressing

import (
	"fmt"
	"strconv"
	"strings"
)

// parseByteRange parses an @indexRange/@mediaRange/@range attribute of the
// form "lo-hi" into its two bounds.
func parseByteRange(s string) (lo, hi int64, err error) {
	before, after, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("addressing: malformed byte range %q", s)
	}
	lo, err = strconv.ParseInt(before, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("addressing: malformed byte range %q: %w", s, err)
	}
	hi, err = strconv.ParseInt(after, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("addressing: malformed byte range %q: %w", s, err)
	}
	return lo, hi, nil
}
