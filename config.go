// Package dashdl parses an MPEG-DASH manifest, selects tracks, fetches
// and (optionally) decrypts their segments, and hands the assembled
// output to an external muxer.
package dashdl

import (
	"crypto/tls"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"kepler.sh/dashdl/internal/drm"
	"kepler.sh/dashdl/internal/mux"
	"kepler.sh/dashdl/internal/track"
)

// Downloader is the core's public builder surface: a flat struct
// populated by chained setter methods, culminating in Download.
type Downloader struct {
	httpClient     *http.Client
	loggerOverride *log.Logger

	prefs track.Preferences

	allowLiveStreams bool
	forceDuration    float64

	fragmentRetryCount int
	maxErrorCount      int
	sleepBetweenReqs   time.Duration
	rateLimitBPS       int64

	withoutContentTypeChecks bool

	authHeader http.Header

	ffmpegPath        string
	vlcPath           string
	mkvmergePath      string
	mp4boxPath        string
	mp4decryptPath    string
	shakaPackagerPath string

	muxerPreference map[string][]string // extension -> ordered helper names
	concatHelpers   []string
	decryptorPref   []string

	decryptionKeys drm.KeySet

	saveFragmentsTo string
	keepAudioPath   string
	keepVideoPath   string

	xsltStylesheet string

	minimumPeriodDuration float64
	conformityChecks      bool
	strictConformity      bool
	recordMetainformation bool
	concatenatePeriods    bool
	failFast              bool

	observers []ProgressObserver
	verbosity int
	metrics   *Metrics

	extendedAttrsFn func(finalPath, manifestURL string, info ProgramInformation) error
}

// New returns a Downloader with sensible defaults: audio+video on,
// subtitles off, static manifests only, content-type checks on.
func New() *Downloader {
	return &Downloader{
		prefs: track.Preferences{
			FetchAudio: true,
			FetchVideo: true,
			Quality:    track.QualityBest,
		},
		fragmentRetryCount: 10,
		maxErrorCount:      30,
		decryptionKeys:     drm.KeySet{},
		concatHelpers:      []string{"ffmpeg", "mkvmerge"},
		decryptorPref:      []string{"mp4decrypt", "shaka-packager"},
		conformityChecks:   true,
		concatenatePeriods: true,
		failFast:           true,
		extendedAttrsFn:    func(string, string, ProgramInformation) error { return nil },
	}
}

// --- track selection ---

func (d *Downloader) Quality(q track.Quality) *Downloader { d.prefs.Quality = q; return d }
func (d *Downloader) PreferVideoWidth(w int) *Downloader {
	d.prefs.Quality, d.prefs.TargetWidth = track.QualityPreferWidth, w
	return d
}
func (d *Downloader) PreferVideoHeight(h int) *Downloader {
	d.prefs.Quality, d.prefs.TargetHeight = track.QualityPreferHeight, h
	return d
}
func (d *Downloader) PreferLanguage(tag string) *Downloader  { d.prefs.Language = tag; return d }
func (d *Downloader) PreferRoles(roles []string) *Downloader { d.prefs.Roles = roles; return d }
func (d *Downloader) FetchAudio(b bool) *Downloader          { d.prefs.FetchAudio = b; return d }
func (d *Downloader) FetchVideo(b bool) *Downloader          { d.prefs.FetchVideo = b; return d }
func (d *Downloader) FetchSubtitles(b bool) *Downloader      { d.prefs.FetchSubtitles = b; return d }

func (d *Downloader) AudioOnly() *Downloader {
	return d.FetchAudio(true).FetchVideo(false)
}

func (d *Downloader) VideoOnly() *Downloader {
	return d.FetchAudio(false).FetchVideo(true)
}

// --- manifest handling ---

func (d *Downloader) AllowLiveStreams(b bool) *Downloader    { d.allowLiveStreams = b; return d }
func (d *Downloader) ForceDuration(secs float64) *Downloader { d.forceDuration = secs; return d }
func (d *Downloader) MinimumPeriodDuration(secs float64) *Downloader {
	d.minimumPeriodDuration = secs
	return d
}
func (d *Downloader) WithXSLTStylesheet(path string) *Downloader { d.xsltStylesheet = path; return d }

// ConcatenatePeriods controls whether compatible Periods are joined into a
// single output (default true) or always emitted as separate numbered
// files.
func (d *Downloader) ConcatenatePeriods(b bool) *Downloader { d.concatenatePeriods = b; return d }

// FailFast controls whether one Period's fatal error aborts the whole
// download (default true) or is skipped in favor of sibling Periods.
func (d *Downloader) FailFast(b bool) *Downloader { d.failFast = b; return d }

// --- fetch resilience & throttling ---

func (d *Downloader) FragmentRetryCount(n int) *Downloader { d.fragmentRetryCount = n; return d }
func (d *Downloader) MaxErrorCount(n int) *Downloader      { d.maxErrorCount = n; return d }
func (d *Downloader) SleepBetweenRequests(dur time.Duration) *Downloader {
	d.sleepBetweenReqs = dur
	return d
}
func (d *Downloader) WithRateLimit(bytesPerSec int64) *Downloader {
	d.rateLimitBPS = bytesPerSec
	return d
}
func (d *Downloader) WithoutContentTypeChecks() *Downloader {
	d.withoutContentTypeChecks = true
	return d
}

func (d *Downloader) rateLimiter() *rate.Limiter {
	if d.rateLimitBPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(d.rateLimitBPS), int(d.rateLimitBPS))
}

// --- transport/auth ---

func (d *Downloader) WithHTTPClient(c *http.Client) *Downloader { d.httpClient = c; return d }

// WithHTTP1Only forces HTTP/1.1 for TLS connections, for CDNs that
// mishandle HTTP/2 range requests.
func (d *Downloader) WithHTTP1Only() *Downloader {
	d.httpClient = &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{NextProtos: []string{"http/1.1"}},
	}}
	return d
}

func (d *Downloader) header() http.Header {
	if d.authHeader == nil {
		d.authHeader = http.Header{}
	}
	return d.authHeader
}

func (d *Downloader) WithAuth(user, pass string) *Downloader {
	req := &http.Request{Header: http.Header{}}
	req.SetBasicAuth(user, pass)
	d.header().Set("Authorization", req.Header.Get("Authorization"))
	return d
}

func (d *Downloader) WithAuthBearer(token string) *Downloader {
	d.header().Set("Authorization", "Bearer "+token)
	return d
}

func (d *Downloader) WithReferer(referer string) *Downloader {
	d.header().Set("Referer", referer)
	return d
}

// --- helper locations ---

func (d *Downloader) WithFFmpegLocation(p string) *Downloader     { d.ffmpegPath = p; return d }
func (d *Downloader) WithVLCLocation(p string) *Downloader        { d.vlcPath = p; return d }
func (d *Downloader) WithMkvmergeLocation(p string) *Downloader   { d.mkvmergePath = p; return d }
func (d *Downloader) WithMP4BoxLocation(p string) *Downloader     { d.mp4boxPath = p; return d }
func (d *Downloader) WithMP4DecryptLocation(p string) *Downloader { d.mp4decryptPath = p; return d }
func (d *Downloader) WithShakaPackagerLocation(p string) *Downloader {
	d.shakaPackagerPath = p
	return d
}

func (d *Downloader) WithMuxerPreference(ext string, csv string) *Downloader {
	if d.muxerPreference == nil {
		d.muxerPreference = map[string][]string{}
	}
	d.muxerPreference[ext] = splitCSV(csv)
	return d
}

func (d *Downloader) WithConcatHelper(names []string) *Downloader { d.concatHelpers = names; return d }
func (d *Downloader) WithDecryptorPreference(names []string) *Downloader {
	d.decryptorPref = names
	return d
}

// --- decryption ---

func (d *Downloader) AddDecryptionKey(kid, key []byte) *Downloader {
	d.decryptionKeys[hexEncode(kid)] = key
	return d
}

// --- debug retention ---

func (d *Downloader) SaveFragmentsTo(dir string) *Downloader { d.saveFragmentsTo = dir; return d }
func (d *Downloader) KeepAudio(path string) *Downloader      { d.keepAudioPath = path; return d }
func (d *Downloader) KeepVideo(path string) *Downloader      { d.keepVideoPath = path; return d }

// --- passive / observability ---

func (d *Downloader) ConformityChecks(b bool) *Downloader {
	d.conformityChecks = b
	return d
}

// StrictConformity makes a conformity warning fatal instead of logged.
func (d *Downloader) StrictConformity(b bool) *Downloader { d.strictConformity = b; return d }

func (d *Downloader) RecordMetainformation(b bool) *Downloader {
	d.recordMetainformation = b
	return d
}

func (d *Downloader) AddProgressObserver(o ProgressObserver) *Downloader {
	d.observers = append(d.observers, o)
	return d
}

func (d *Downloader) Verbosity(n int) *Downloader { d.verbosity = n; return d }

// WithMetrics registers the Metrics collectors on reg. Every subsequent
// Download call increments SegmentsFetched once per completed segment;
// SegmentErrors and BandwidthBPS are registered but Download does not
// update them.
func (d *Downloader) WithMetrics(reg prometheus.Registerer) *Downloader {
	d.metrics = NewMetrics(reg)
	return d
}

// WithLogger redirects the ambient logger instead of
// the package-wide log.Default().
func (d *Downloader) WithLogger(l *log.Logger) *Downloader { d.loggerOverride = l; return d }

func (d *Downloader) logger() *log.Logger {
	if d.loggerOverride != nil {
		return d.loggerOverride
	}
	return log.Default()
}

// SetExtendedAttributesFunc overrides the best-effort extended-attribute
// hook; the default is a no-op since writing them is out of scope
// and platform-specific.
func (d *Downloader) SetExtendedAttributesFunc(fn func(finalPath, manifestURL string, info ProgramInformation) error) *Downloader {
	d.extendedAttrsFn = fn
	return d
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0xf]
	}
	return string(out)
}

// decryptDriver resolves the configured decryptor name preference against
// the configured mp4decrypt/shaka-packager locations into a ready-to-run
// drm.Driver.
func (d *Downloader) decryptDriver() *drm.Driver {
	return &drm.Driver{Preference: drm.DefaultPreference(d.decryptorPref, d.mp4decryptPath, d.shakaPackagerPath)}
}

// muxHelperTable adapts d's helper location overrides into the mux
// package's default preference table, reordered per WithMuxerPreference.
func (d *Downloader) muxHelperTable() map[string][]mux.Helper {
	table := mux.DefaultPreference(d.ffmpegPath, d.vlcPath, d.mkvmergePath, d.mp4boxPath)
	for ext, names := range d.muxerPreference {
		var ordered []mux.Helper
		byName := map[string]mux.Helper{}
		for _, h := range mux.DefaultPreference(d.ffmpegPath, d.vlcPath, d.mkvmergePath, d.mp4boxPath)[ext] {
			byName[h.Name] = h
		}
		for _, n := range names {
			if h, ok := byName[n]; ok {
				ordered = append(ordered, h)
			}
		}
		if len(ordered) > 0 {
			table[ext] = ordered
		}
	}
	return table
}
