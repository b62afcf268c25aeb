// Package mpd is the typed tree a Media Presentation Description unmarshals
// into: MPD, Period, AdaptationSet, Representation and the three segment
// description families (SegmentBase, SegmentList, SegmentTemplate).
package mpd

import "encoding/xml"

// XLink carries the xlink:href/actuate/show attributes any element in the
// schema may declare. Embed it by value; a zero XLink means no indirection.
type XLink struct {
	Href    string `xml:"http://www.w3.org/1999/xlink href,attr,omitempty"`
	Actuate string `xml:"http://www.w3.org/1999/xlink actuate,attr,omitempty"`
	Show    string `xml:"http://www.w3.org/1999/xlink show,attr,omitempty"`
}

// ResolveToZeroURN is the magic href value meaning "remove this element".
const ResolveToZeroURN = "urn:mpeg:dash:resolve-to-zero:2013"

func (x XLink) HasHref() bool { return x.Href != "" }

func (x XLink) IsResolveToZero() bool { return x.Href == ResolveToZeroURN }

// OnLoad reports whether this link should be resolved eagerly. actuate
// defaults to onRequest per the XLink spec, so an absent attribute means no.
func (x XLink) OnLoad() bool { return x.Actuate == "onLoad" }

type MPD struct {
	XMLName xml.Name `xml:"MPD"`
	XLink
	Type                      string              `xml:"type,attr,omitempty"`
	MediaPresentationDuration string              `xml:"mediaPresentationDuration,attr,omitempty"`
	MinimumUpdatePeriod       string              `xml:"minimumUpdatePeriod,attr,omitempty"`
	AvailabilityStartTime     string              `xml:"availabilityStartTime,attr,omitempty"`
	BaseURL                   []BaseURL           `xml:"BaseURL,omitempty"`
	Location                  []string            `xml:"Location,omitempty"`
	PatchLocation             []string            `xml:"PatchLocation,omitempty"`
	ProgramInformation        *ProgramInformation `xml:"ProgramInformation,omitempty"`
	Period                    []*Period           `xml:"Period"`

	// SourceURL is not part of the schema; it is stamped on after Parse so
	// every descendant carries back a pointer to the manifest it came from,
	// needed for query-string inheritance.
	SourceURL string `xml:"-"`
}

type ProgramInformation struct {
	Title     string `xml:"Title,omitempty"`
	Source    string `xml:"Source,omitempty"`
	Copyright string `xml:"Copyright,omitempty"`
}

type BaseURL struct {
	Value                  string `xml:",chardata"`
	ServiceLocation        string `xml:"serviceLocation,attr,omitempty"`
	Weight                 *int   `xml:"weight,attr,omitempty"`
	AvailabilityTimeOffset string `xml:"availabilityTimeOffset,attr,omitempty"`
}

type Period struct {
	XLink
	ID              string           `xml:"id,attr,omitempty"`
	Start           string           `xml:"start,attr,omitempty"`
	Duration        string           `xml:"duration,attr,omitempty"`
	BaseURL         []BaseURL        `xml:"BaseURL,omitempty"`
	SegmentTemplate *SegmentTemplate `xml:"SegmentTemplate,omitempty"`
	AdaptationSet   []*AdaptationSet `xml:"AdaptationSet"`

	// EffectiveStart is computed after inheritance resolution (the invariant:
	// absent start = sum of earlier Period durations).
	EffectiveStart    float64 `xml:"-"`
	EffectiveDuration float64 `xml:"-"`
}

type Role struct {
	SchemeIdUri string `xml:"schemeIdUri,attr,omitempty"`
	Value       string `xml:"value,attr,omitempty"`
}

type ContentProtection struct {
	SchemeIdUri string `xml:"schemeIdUri,attr,omitempty"`
	Value       string `xml:"value,attr,omitempty"`
	DefaultKID  string `xml:"http://dashif.org/guidelines/protection default_KID,attr,omitempty"`
	Pssh        string `xml:"pssh,omitempty"`
}

type AdaptationSet struct {
	XLink
	ID                string              `xml:"id,attr,omitempty"`
	Lang              string              `xml:"lang,attr,omitempty"`
	ContentType       string              `xml:"contentType,attr,omitempty"`
	MimeType          string              `xml:"mimeType,attr,omitempty"`
	Codecs            string              `xml:"codecs,attr,omitempty"`
	Label             string              `xml:"Label,omitempty"`
	Role              []Role              `xml:"Role,omitempty"`
	BaseURL           []BaseURL           `xml:"BaseURL,omitempty"`
	ContentProtection []ContentProtection `xml:"ContentProtection,omitempty"`
	SegmentTemplate   *SegmentTemplate    `xml:"SegmentTemplate,omitempty"`
	SegmentList       *SegmentList        `xml:"SegmentList,omitempty"`
	SegmentBase       *SegmentBase        `xml:"SegmentBase,omitempty"`
	Representation    []*Representation   `xml:"Representation"`

	// Parent is wired up after parsing for inheritance walks and the Track
	// Selector's Role/Lang lookups.
	Parent *Period `xml:"-"`
}

type Representation struct {
	ID                string              `xml:"id,attr,omitempty"`
	Bandwidth         int                 `xml:"bandwidth,attr,omitempty"`
	Width             int                 `xml:"width,attr,omitempty"`
	Height            int                 `xml:"height,attr,omitempty"`
	FrameRate         string              `xml:"frameRate,attr,omitempty"`
	SAR               string              `xml:"sar,attr,omitempty"`
	Codecs            string              `xml:"codecs,attr,omitempty"`
	MimeType          string              `xml:"mimeType,attr,omitempty"`
	QualityRanking    *int                `xml:"qualityRanking,attr,omitempty"`
	BaseURL           []BaseURL           `xml:"BaseURL,omitempty"`
	ContentProtection []ContentProtection `xml:"ContentProtection,omitempty"`
	SegmentTemplate   *SegmentTemplate    `xml:"SegmentTemplate,omitempty"`
	SegmentList       *SegmentList        `xml:"SegmentList,omitempty"`
	SegmentBase       *SegmentBase        `xml:"SegmentBase,omitempty"`

	Parent *AdaptationSet `xml:"-"`
}

// EffectiveMimeType resolves the mimeType against the parent AdaptationSet
// when the Representation omits it, matching the inheritance rule the
// schema gives for every other segment-description field.
func (r *Representation) EffectiveMimeType() string {
	if r.MimeType != "" {
		return r.MimeType
	}
	if r.Parent != nil {
		return r.Parent.MimeType
	}
	return ""
}

func (r *Representation) EffectiveCodecs() string {
	if r.Codecs != "" {
		return r.Codecs
	}
	if r.Parent != nil {
		return r.Parent.Codecs
	}
	return ""
}

// ---- Segment description families ----

type SegmentBase struct {
	IndexRange     string        `xml:"indexRange,attr,omitempty"`
	Timescale      int           `xml:"timescale,attr,omitempty"`
	Initialization *URLReference `xml:"Initialization,omitempty"`
}

type URLReference struct {
	SourceURL string `xml:"sourceURL,attr,omitempty"`
	Range     string `xml:"range,attr,omitempty"`
}

type SegmentList struct {
	Timescale      int           `xml:"timescale,attr,omitempty"`
	Duration       int           `xml:"duration,attr,omitempty"`
	Initialization *URLReference `xml:"Initialization,omitempty"`
	SegmentURL     []SegmentURL  `xml:"SegmentURL"`
}

type SegmentURL struct {
	Media      string `xml:"media,attr,omitempty"`
	MediaRange string `xml:"mediaRange,attr,omitempty"`
}

type SegmentTemplate struct {
	Media           string           `xml:"media,attr,omitempty"`
	Initialization  string           `xml:"initialization,attr,omitempty"`
	Timescale       int              `xml:"timescale,attr,omitempty"`
	Duration        float64          `xml:"duration,attr,omitempty"`
	StartNumber     *int             `xml:"startNumber,attr,omitempty"`
	SegmentTimeline *SegmentTimeline `xml:"SegmentTimeline,omitempty"`
}

type SegmentTimeline struct {
	S []TimelineEntry `xml:"S"`
}

// TimelineEntry is one S element: t (start time), d (duration), r (repeat
// count, -1 meaning "until the next entry or Period end"), n and k are rare
// extensions carried through unused by addressing but kept for fidelity.
type TimelineEntry struct {
	T *int64 `xml:"t,attr,omitempty"`
	D int64  `xml:"d,attr"`
	R int    `xml:"r,attr,omitempty"`
	N *int64 `xml:"n,attr,omitempty"`
	K *int   `xml:"k,attr,omitempty"`
}
