// Package baseurl implements the URL Context: a stack of effective
// BaseURL values combined with the manifest URL's query component, walked
// MPD -> Period -> AdaptationSet -> Representation.
package baseurl

import (
	"net/url"

	"kepler.sh/dashdl/mpd"
)

// Context carries the resolved base at one level of the inheritance walk
// plus the manifest's own query string, which segment URLs inherit when
// they don't carry one of their own (token-based auth is often carried
// only on the manifest URL's query).
type Context struct {
	base  *url.URL
	query string
}

// Root builds the starting Context from the manifest's own URL.
func Root(manifestURL string) (*Context, error) {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return nil, err
	}
	return &Context{base: u, query: u.RawQuery}, nil
}

// Push resolves the first usable BaseURL in the list against the current
// context and returns a new, more specific Context. Siblings are failover
// alternatives; declaration order is honoured since @weight is not wired.
// availabilityTimeOffset=INF stays a no-op, and no serviceLocation-based
// failover is attempted here — that's a transport-level retry concern,
// not addressing.
func (c *Context) Push(urls []mpd.BaseURL) (*Context, error) {
	if len(urls) == 0 {
		return c, nil
	}
	ref, err := url.Parse(urls[0].Value)
	if err != nil {
		return nil, err
	}
	return &Context{base: c.base.ResolveReference(ref), query: c.query}, nil
}

// Resolve resolves ref (absolute or relative) against the current base and
// appends the manifest's query string when ref has none of its own.
func (c *Context) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	resolved := c.base.ResolveReference(u)
	if resolved.RawQuery == "" && c.query != "" {
		resolved.RawQuery = c.query
	}
	return resolved.String(), nil
}

// String returns the current base URL, used when a segment family (e.g.
// SegmentBase, or a SegmentList with no per-segment @media) addresses the
// Representation's own file directly. It carries the same query
// inheritance as Resolve, since this URL is itself a segment URL whenever
// no @media template applies.
func (c *Context) String() string {
	if c.base.RawQuery == "" && c.query != "" {
		withQuery := *c.base
		withQuery.RawQuery = c.query
		return withQuery.String()
	}
	return c.base.String()
}
