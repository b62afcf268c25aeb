package dashdl

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"kepler.sh/dashdl/internal/addressing"
	"kepler.sh/dashdl/internal/assemble"
	"kepler.sh/dashdl/internal/baseurl"
	"kepler.sh/dashdl/internal/concat"
	"kepler.sh/dashdl/internal/fetch"
	"kepler.sh/dashdl/internal/mux"
	"kepler.sh/dashdl/internal/track"
	"kepler.sh/dashdl/mpd"
	"kepler.sh/dashdl/xlink"
)

// ProgramInformation re-exports the manifest's ProgramInformation so callers
// never need to import the mpd package directly for the extended-attributes
// hook.
type ProgramInformation = mpd.ProgramInformation

// Download fetches the manifest at mpdURL, selects tracks per the
// configured preferences, assembles and muxes every Period, and writes the
// final result to outputPath (its extension selects the container). When
// the manifest has more than one compatible Period, outputPath receives the
// single concatenated result; otherwise one numbered file per Period is
// produced alongside outputPath and every resulting path is returned.
func (d *Downloader) Download(ctx context.Context, mpdURL, outputPath string) ([]string, error) {
	client := d.resolveHTTPClient()

	manifestBytes, err := d.fetchManifest(ctx, client, mpdURL)
	if err != nil {
		return nil, err
	}

	if d.xsltStylesheet != "" {
		manifestBytes, err = applyXSLT(ctx, d.xsltStylesheet, manifestBytes)
		if err != nil {
			return nil, fmt.Errorf("dashdl: xslt pre-filter: %w", err)
		}
	}

	m, err := mpd.Parse(bytes.NewReader(manifestBytes), mpdURL)
	if err != nil {
		return nil, &ParsingError{Err: err}
	}

	if m.Type == "dynamic" && !d.allowLiveStreams {
		return nil, fmt.Errorf("dashdl: manifest is dynamic; call AllowLiveStreams(true) to permit it")
	}
	if d.forceDuration > 0 && len(m.Period) > 0 {
		last := m.Period[len(m.Period)-1]
		if last.EffectiveDuration <= 0 {
			last.EffectiveDuration = d.forceDuration - last.EffectiveStart
		}
	}

	segmentFetcher := d.newFetcher(client)

	manifestBase, err := baseurl.Root(mpdURL)
	if err != nil {
		return nil, fmt.Errorf("dashdl: %w", err)
	}
	resolver := xlink.New(func(ctx context.Context, href string) ([]byte, error) {
		resolved, err := manifestBase.Resolve(href)
		if err != nil {
			return nil, err
		}
		return segmentFetcher.Get(ctx, "xlink", addressing.SegmentRef{URL: resolved}, "")
	})
	if err := resolver.Resolve(ctx, m); err != nil {
		return nil, fmt.Errorf("dashdl: %w", err)
	}
	for _, w := range resolver.Warnings {
		d.logger().Printf("dashdl: %v", w)
	}

	if d.conformityChecks {
		for _, ce := range checkConformity(m) {
			if d.strictConformity {
				return nil, ce
			}
			d.logger().Printf("dashdl: %v", ce)
		}
	}

	if d.recordMetainformation && m.ProgramInformation != nil {
		d.logger().Printf("dashdl: %q by %q (%s)", m.ProgramInformation.Title,
			m.ProgramInformation.Source, m.ProgramInformation.Copyright)
	}
	if d.verbosity > 0 {
		d.logger().Printf("dashdl: parsed manifest with %d period(s)", len(m.Period))
	}

	periods := concat.DiscardShortPeriods(m.Period, d.minimumPeriodDuration)
	if len(periods) == 0 {
		return nil, fmt.Errorf("dashdl: no Period survived minimum_period_duration filtering")
	}

	runDir, cleanupRunDir := d.runDir()
	defer cleanupRunDir()

	assembler := &assemble.Assembler{
		Getter:      segmentFetcher,
		Logger:      d.logger(),
		TempDir:     runDir,
		SaveFragDir: d.saveFragmentsTo,
		Keys:        d.decryptionKeys,
		Decryptor:   d.decryptDriver(),
		KeepAudio:   d.keepAudioPath,
		KeepVideo:   d.keepVideoPath,
	}
	subtitleConverter := &assemble.SubtitleConverter{MP4BoxPath: d.mp4boxPath}
	muxer := &mux.Driver{Preference: d.muxHelperTable()}

	ext := strings.TrimPrefix(filepath.Ext(outputPath), ".")
	if ext == "" {
		ext = "mp4"
	}
	base := strings.TrimSuffix(outputPath, filepath.Ext(outputPath))

	var periodOutputs []string
	var periodTracks []concat.PeriodTracks
	for i, period := range periods {
		if d.verbosity > 1 {
			d.logger().Printf("dashdl: assembling period %d/%d %q (%.1fs)", i+1, len(periods), period.ID, period.EffectiveDuration)
		}
		out, tracks, err := d.assemblePeriod(ctx, period, m, assembler, subtitleConverter, muxer, runDir, ext, i)
		if err != nil {
			if d.failFast {
				return nil, err
			}
			d.logger().Printf("dashdl: period %q failed, skipping (fail_fast disabled): %v", period.ID, err)
			continue
		}
		periodOutputs = append(periodOutputs, out)
		periodTracks = append(periodTracks, tracks)
	}
	if len(periodOutputs) == 0 {
		return nil, fmt.Errorf("dashdl: every Period failed")
	}

	var finalPaths []string
	if len(periodOutputs) > 1 && d.concatenatePeriods && concat.Compatible(periodTracks) {
		driver := &concat.Driver{Helpers: concat.DefaultHelpers(d.ffmpegPath, d.mkvmergePath)}
		if err := driver.Concat(ctx, periodOutputs, outputPath); err != nil {
			return nil, &MuxingError{Err: err}
		}
		for _, p := range periodOutputs {
			os.Remove(p)
		}
		finalPaths = []string{outputPath}
	} else {
		for i, p := range periodOutputs {
			dest := concat.NumberedOutputPath(base, "."+ext, i)
			if p != dest {
				if err := os.Rename(p, dest); err != nil {
					return nil, fmt.Errorf("dashdl: io: %w", err)
				}
			}
			finalPaths = append(finalPaths, dest)
		}
	}

	progInfo := ProgramInformation{}
	if m.ProgramInformation != nil {
		progInfo = *m.ProgramInformation
	}
	for _, p := range finalPaths {
		if err := d.extendedAttrsFn(p, mpdURL, progInfo); err != nil {
			d.logger().Printf("dashdl: extended attributes: %v", err)
		}
	}

	return finalPaths, nil
}

// assemblePeriod runs track selection, addressing, fetch, assembly and
// muxing for one Period, returning its muxed container path.
func (d *Downloader) assemblePeriod(
	ctx context.Context,
	period *mpd.Period,
	m *mpd.MPD,
	assembler *assemble.Assembler,
	subtitles *assemble.SubtitleConverter,
	muxer *mux.Driver,
	runDir, ext string,
	index int,
) (string, concat.PeriodTracks, error) {
	sel, err := track.Select(period, d.prefs)
	if err != nil {
		return "", concat.PeriodTracks{}, err
	}

	var tracks []assemble.Track
	if sel.Audio != nil {
		refs, err := addressing.Resolve(sel.Audio, m.SourceURL, period.EffectiveDuration)
		if err != nil {
			return "", concat.PeriodTracks{}, err
		}
		tracks = append(tracks, assemble.Track{Kind: "audio", Representation: sel.Audio, Refs: refs})
	}
	if sel.Video != nil {
		refs, err := addressing.Resolve(sel.Video, m.SourceURL, period.EffectiveDuration)
		if err != nil {
			return "", concat.PeriodTracks{}, err
		}
		tracks = append(tracks, assemble.Track{Kind: "video", Representation: sel.Video, Refs: refs})
	}
	for i, rep := range sel.Subtitles {
		refs, err := addressing.Resolve(rep, m.SourceURL, period.EffectiveDuration)
		if err != nil {
			return "", concat.PeriodTracks{}, err
		}
		tracks = append(tracks, assemble.Track{Kind: fmt.Sprintf("text-%d", i), Representation: rep, Refs: refs})
	}

	outputs, err := assembler.Assemble(ctx, tracks)
	if err != nil {
		return "", concat.PeriodTracks{}, err
	}
	defer assemble.Cleanup(outputs)

	in := mux.Inputs{}
	pt := concat.PeriodTracks{Video: sel.Video, Audio: sel.Audio}
	for i, out := range outputs {
		switch out.Kind {
		case "audio":
			in.Audio = out.Path
			pt.AudioPath = out.Path
		case "video":
			in.Video = out.Path
			pt.VideoPath = out.Path
		default:
			rep := tracks[i].Representation
			srtPath, err := subtitles.Convert(ctx, out.Path, out.Path, rep.EffectiveMimeType(), rep.EffectiveCodecs())
			if err != nil {
				d.logger().Printf("dashdl: subtitle conversion: %v", err)
				continue
			}
			in.Subtitles = append(in.Subtitles, srtPath)
		}
	}

	periodOutput := concat.NumberedOutputPath(filepath.Join(runDir, "period"), "."+ext, index)
	if err := muxer.Mux(ctx, ext, in, periodOutput); err != nil {
		return "", concat.PeriodTracks{}, &MuxingError{Err: err}
	}
	return periodOutput, pt, nil
}

func (d *Downloader) resolveHTTPClient() *http.Client {
	if d.httpClient != nil {
		if d.httpClient.Jar == nil {
			jar, _ := cookiejar.New(nil)
			d.httpClient.Jar = jar
		}
		return d.httpClient
	}
	jar, _ := cookiejar.New(nil)
	d.httpClient = &http.Client{Jar: jar}
	return d.httpClient
}

func (d *Downloader) fetchManifest(ctx context.Context, client *http.Client, mpdURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mpdURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dashdl: %w", err)
	}
	req.Header.Set("Accept", "application/dash+xml,video/vnd.mpeg.dash.mpd")
	for k, vs := range d.header() {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{Code: resp.StatusCode}
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("dashdl: io: reading manifest: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *Downloader) newFetcher(client *http.Client) *fetch.Fetcher {
	var observers []fetch.Observer
	for _, o := range d.observers {
		observers = append(observers, observerAdapter{o})
	}
	if d.metrics != nil {
		observers = append(observers, metricsObserver{d.metrics})
	}
	return fetch.New(&fetch.Config{
		Client:                   client,
		Logger:                   d.logger(),
		FragmentRetryCount:       d.fragmentRetryCount,
		MaxErrorCount:            d.maxErrorCount,
		WithoutContentTypeChecks: d.withoutContentTypeChecks,
		RateLimiter:              d.rateLimiter(),
		SleepBetweenRequests:     d.sleepBetweenReqs,
		Header:                   d.header(),
		Observers:                observers,
	})
}

// runDir returns the directory temp/fragment files for this Download call
// are written to, and a cleanup func to remove it unless save_fragments_to
// was configured. A uuid-named subdirectory keeps concurrent Download
// calls from colliding on the same machine.
func (d *Downloader) runDir() (string, func()) {
	if d.saveFragmentsTo != "" {
		dir := filepath.Join(d.saveFragmentsTo, uuid.NewString())
		os.MkdirAll(dir, 0o755)
		return dir, func() {}
	}
	dir, err := os.MkdirTemp("", "dashdl-"+uuid.NewString())
	if err != nil {
		dir = os.TempDir()
		return dir, func() {}
	}
	return dir, func() { os.RemoveAll(dir) }
}

// applyXSLT pipes manifest bytes through an external xsltproc invocation
// using the configured stylesheet.
func applyXSLT(ctx context.Context, stylesheetPath string, data []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "xsltproc", stylesheetPath, "-")
	cmd.Stdin = bytes.NewReader(data)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("xsltproc: %w: %s", err, stderr.String())
	}
	return out.Bytes(), nil
}
