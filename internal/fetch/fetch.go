// Package fetch is the Segment Fetcher: a resilient, retryable
// HTTP(S) client with content-type validation, bandwidth accounting,
// optional rate limiting and inter-request sleep.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"kepler.sh/dashdl/internal/addressing"
	"kepler.sh/dashdl/mpd"
)

// Observer is notified of fetch progress; it is called at least once per
// completed segment, and on every chunk once the estimated total size
// clears ChunkNotifyThreshold (the "responsive on small, high-bandwidth
// segments" requirement).
type Observer interface {
	OnChunk(trackID string, bytesRead, totalEstimate int64)
	OnSegmentDone(trackID string, ref addressing.SegmentRef)
}

// ChunkNotifyThreshold is the estimated-size cutoff above which an
// in-flight segment also reports per-chunk progress.
const ChunkNotifyThreshold = 8 << 20

const chunkSize = 64 * 1024

// Config mirrors the builder options that govern fetch behaviour.
type Config struct {
	Client                   *http.Client
	Logger                   *log.Logger
	FragmentRetryCount       int
	MaxErrorCount            int
	WithoutContentTypeChecks bool
	RateLimiter              *rate.Limiter // bytes/sec cap, nil = unlimited
	SleepBetweenRequests     time.Duration
	Header                   http.Header // auth/referer defaults merged onto every request
	Observers                []Observer
}

func (c *Config) retryCount() int {
	if c.FragmentRetryCount > 0 {
		return c.FragmentRetryCount
	}
	return 10
}

func (c *Config) maxErrors() int {
	if c.MaxErrorCount > 0 {
		return c.MaxErrorCount
	}
	return 30
}

func (c *Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// Fetcher holds the state shared across every segment request for one
// Download call: one HTTP client, one error counter, one bandwidth meter.
type Fetcher struct {
	cfg        *Config
	errorCount int64
	bandwidth  *meter
}

func New(cfg *Config) *Fetcher {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &Fetcher{cfg: cfg, bandwidth: newMeter()}
}

// BandwidthBitsPerSecond reports the sliding-window average.
func (f *Fetcher) BandwidthBitsPerSecond() float64 { return f.bandwidth.rate() }

// Get fetches ref, retrying transient errors without limit and permanent
// errors up to the fragment retry budget, honouring the process-wide
// max error count. expectedMimeType is the manifest-declared
// mimeType, accepted in addition to the fixed whitelist.
func (f *Fetcher) Get(ctx context.Context, trackID string, ref addressing.SegmentRef, expectedMimeType string) ([]byte, error) {
	if f.cfg.SleepBetweenRequests > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.cfg.SleepBetweenRequests):
		}
	}

	if strings.HasPrefix(ref.URL, "data:") {
		data, err := mpd.DecodeDataURL(ref.URL)
		if err != nil {
			return nil, fmt.Errorf("fetch: data url: %w", err)
		}
		for _, obs := range f.cfg.Observers {
			obs.OnSegmentDone(trackID, ref)
		}
		return data, nil
	}

	var attempt int
	for {
		data, err := f.attempt(ctx, trackID, ref, expectedMimeType)
		if err == nil {
			for _, obs := range f.cfg.Observers {
				obs.OnSegmentDone(trackID, ref)
			}
			return data, nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		if isTransient(err) {
			f.cfg.logger().Printf("fetch: transient error on %s, retrying: %v", ref.URL, err)
			continue
		}

		attempt++
		if atomic.AddInt64(&f.errorCount, 1) > int64(f.cfg.maxErrors()) {
			return nil, fmt.Errorf("fetch: max error count exceeded: %w", err)
		}
		if attempt > f.cfg.retryCount() {
			return nil, fmt.Errorf("fetch: %s: exceeded retry budget: %w", ref.URL, err)
		}
		f.cfg.logger().Printf("fetch: error on %s (attempt %d/%d): %v", ref.URL, attempt, f.cfg.retryCount(), err)
	}
}

func (f *Fetcher) attempt(ctx context.Context, trackID string, ref addressing.SegmentRef, expectedMimeType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, permanentError{err}
	}
	for k, vs := range f.cfg.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if ref.HasRange {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", ref.ByteLo, ref.ByteHi))
	}

	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	if !f.cfg.WithoutContentTypeChecks {
		if err := checkContentType(resp, expectedMimeType); err != nil {
			return nil, err
		}
	}

	total := resp.ContentLength
	notifyChunks := total > ChunkNotifyThreshold
	buf := make([]byte, 0, max64(total, chunkSize))
	chunk := make([]byte, chunkSize)
	start := time.Now()
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			f.bandwidth.record(int64(n), time.Since(start))
			if f.cfg.RateLimiter != nil {
				if werr := f.cfg.RateLimiter.WaitN(ctx, n); werr != nil {
					return nil, permanentError{werr}
				}
			}
			if notifyChunks {
				for _, obs := range f.cfg.Observers {
					obs.OnChunk(trackID, int64(len(buf)), total)
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, classifyTransportError(rerr)
		}
	}
	return buf, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500 {
		return transientError{fmt.Errorf("http status %d", resp.StatusCode)}
	}
	return &HTTPStatusError{Code: resp.StatusCode}
}

// acceptedContentTypePrefixes is the whitelist used unless content-type
// checks are disabled.
var acceptedContentTypePrefixes = []string{
	"audio/", "video/", "text/", "application/mp4", "application/octet-stream",
}

func checkContentType(resp *http.Response, expectedMimeType string) error {
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		return nil // absent header: nothing to validate against
	}
	ct, _, _ = strings.Cut(ct, ";")
	ct = strings.TrimSpace(ct)
	for _, prefix := range acceptedContentTypePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return nil
		}
	}
	if expectedMimeType != "" && ct == expectedMimeType {
		return nil
	}
	return permanentError{fmt.Errorf("fetch: unexpected content-type %q", ct)}
}

// --- error classification ---

type transientError struct{ error }
type permanentError struct{ error }

func (e transientError) Unwrap() error { return e.error }
func (e permanentError) Unwrap() error { return e.error }

func isTransient(err error) bool {
	var t transientError
	return errors.As(err, &t)
}

// classifyTransportError implements the best-effort transient/permanent
// split: connect and TLS failures are always permanent; timeouts and
// connection resets are transient.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transientError{&NetworkTimeoutError{Err: err}}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return permanentError{&NetworkConnectError{Err: err}}
		}
		return transientError{&NetworkError{Err: err}}
	}
	if strings.Contains(err.Error(), "connection reset") {
		return transientError{&NetworkError{Err: err}}
	}
	return permanentError{&NetworkError{Err: err}}
}
