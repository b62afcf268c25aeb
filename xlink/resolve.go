// Package xlink splices remote MPD fragments into a parsed manifest
// wherever an element declares xlink:href with actuate=onLoad.
package xlink

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"

	"kepler.sh/dashdl/mpd"
)

// DefaultMaxDepth bounds total resolutions per manifest against adversarial
// or cyclic fragments.
const DefaultMaxDepth = 20

// errMaxDepth is the one resolution failure treated as fatal: every other
// per-element fetch failure just drops that element's subtree and keeps
// resolving its siblings.
var errMaxDepth = errors.New("xlink: exceeded max resolution depth")

// Fetcher retrieves the bytes at a remote href. The Segment Fetcher package
// supplies the production implementation; tests supply a map or stub.
type Fetcher func(ctx context.Context, href string) ([]byte, error)

type Resolver struct {
	Fetch    Fetcher
	MaxDepth int

	// Warnings collects one entry per element dropped because its href
	// could not be resolved, after a successful (non-error) Resolve call.
	Warnings []error

	resolutions int
}

func New(fetch Fetcher) *Resolver {
	return &Resolver{Fetch: fetch, MaxDepth: DefaultMaxDepth}
}

// Resolve walks every Period and AdaptationSet in m looking for XLink
// elements, splicing in resolved children or dropping resolve-to-zero
// placeholders. It mutates m in place.
func (r *Resolver) Resolve(ctx context.Context, m *mpd.MPD) error {
	periods, err := r.resolvePeriods(ctx, m.Period)
	if err != nil {
		return err
	}
	m.Period = periods
	for _, p := range m.Period {
		sets, err := r.resolveAdaptationSets(ctx, p.AdaptationSet)
		if err != nil {
			return err
		}
		p.AdaptationSet = sets
		for _, as := range sets {
			as.Parent = p
			for _, rep := range as.Representation {
				rep.Parent = as
			}
		}
	}
	return nil
}

func (r *Resolver) resolvePeriods(ctx context.Context, in []*mpd.Period) ([]*mpd.Period, error) {
	var out []*mpd.Period
	for _, p := range in {
		if !p.HasHref() {
			out = append(out, p)
			continue
		}
		if p.IsResolveToZero() {
			continue
		}
		if !p.OnLoad() {
			out = append(out, p)
			continue
		}
		spliced, err := resolveElement(ctx, r, p.Href, "Period", func(data []byte) (any, error) {
			var wrapper struct {
				Period []*mpd.Period `xml:"Period"`
			}
			if err := xml.Unmarshal(wrapXML(data), &wrapper); err != nil {
				return nil, err
			}
			return wrapper.Period, nil
		})
		if err != nil {
			if errors.Is(err, errMaxDepth) {
				return nil, fmt.Errorf("xlink: resolving Period %q: %w", p.ID, err)
			}
			r.Warnings = append(r.Warnings, fmt.Errorf("xlink: dropping Period %q: %w", p.ID, err))
			continue
		}
		children, err := r.resolvePeriods(ctx, spliced.([]*mpd.Period))
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
	}
	return out, nil
}

func (r *Resolver) resolveAdaptationSets(ctx context.Context, in []*mpd.AdaptationSet) ([]*mpd.AdaptationSet, error) {
	var out []*mpd.AdaptationSet
	for _, as := range in {
		if !as.HasHref() {
			out = append(out, as)
			continue
		}
		if as.IsResolveToZero() {
			continue
		}
		if !as.OnLoad() {
			out = append(out, as)
			continue
		}
		spliced, err := resolveElement(ctx, r, as.Href, "AdaptationSet", func(data []byte) (any, error) {
			var wrapper struct {
				AdaptationSet []*mpd.AdaptationSet `xml:"AdaptationSet"`
			}
			if err := xml.Unmarshal(wrapXML(data), &wrapper); err != nil {
				return nil, err
			}
			return wrapper.AdaptationSet, nil
		})
		if err != nil {
			if errors.Is(err, errMaxDepth) {
				return nil, fmt.Errorf("xlink: resolving AdaptationSet %q: %w", as.ID, err)
			}
			r.Warnings = append(r.Warnings, fmt.Errorf("xlink: dropping AdaptationSet %q: %w", as.ID, err))
			continue
		}
		children, err := r.resolveAdaptationSets(ctx, spliced.([]*mpd.AdaptationSet))
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
	}
	return out, nil
}

// resolveElement performs the shared fetch/depth-check/unwrap dance for
// both Period and AdaptationSet resolution.
func resolveElement(ctx context.Context, r *Resolver, href, name string, unwrap func([]byte) (any, error)) (any, error) {
	if r.resolutions >= r.MaxDepth {
		return nil, fmt.Errorf("%w: %d (%s)", errMaxDepth, r.MaxDepth, name)
	}
	r.resolutions++
	data, err := r.Fetch(ctx, href)
	if err != nil {
		return nil, err
	}
	return unwrap(data)
}

// wrapXML wraps an arbitrary fragment body in a synthetic root so stray
// top-level elements (a bare list of <Period> siblings, say) still decode.
// The root declares the xlink prefix, so xlink:href attributes inside a
// fragment that relies on the enclosing manifest's declaration still resolve.
func wrapXML(data []byte) []byte {
	const open = `<root xmlns:xlink="http://www.w3.org/1999/xlink">`
	out := make([]byte, 0, len(data)+len(open)+8)
	out = append(out, []byte(open)...)
	out = append(out, data...)
	out = append(out, []byte("</root>")...)
	return out
}
