// Package mux is the Muxer Driver: keyed by output extension, each
// key holds an ordered preference list of helper names, attempted until
// one exits successfully.
package mux

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Inputs names the streams to mux, by track kind. A missing entry means
// that track wasn't fetched; a lone stream goes through the same helper
// list as a full set, and no codec/container compatibility check is made.
type Inputs struct {
	Video     string
	Audio     string
	Subtitles []string
}

// Helper answers "can you mux this extension?" and "run against these
// inputs". VLC's exit
// code is unreliable, so a helper with TrustExitCode false is judged by
// the output file it leaves behind instead of by the process result.
type Helper struct {
	Name string
	Path string
	// BuildArgs constructs the command line for one mux attempt.
	BuildArgs func(in Inputs, output string) []string
	// TrustExitCode is false for vlc: success is inferred from a non-empty
	// output file instead.
	TrustExitCode bool
}

// Probe runs "helper --version" (or equivalent) to verify the binary is
// present and runnable, per the capability-probing contract.
func (h Helper) Probe(ctx context.Context) error {
	versionFlag := "--version"
	if h.Name == "mp4box" {
		versionFlag = "-version"
	}
	cmd := exec.CommandContext(ctx, h.Path, versionFlag)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mux: probing %s: %w: %s", h.Name, err, stderr.String())
	}
	return nil
}

func (h Helper) run(ctx context.Context, in Inputs, output string) error {
	args := h.BuildArgs(in, output)
	cmd := exec.CommandContext(ctx, h.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()

	info, statErr := os.Stat(output)
	outputExists := statErr == nil && info.Size() > 0

	if h.TrustExitCode {
		if err != nil {
			return fmt.Errorf("%s: %w: %s", h.Name, err, stderr.String())
		}
		if !outputExists {
			return fmt.Errorf("%s: exited successfully but produced no output", h.Name)
		}
		return nil
	}
	// vlc: exit code unreliable, go by file presence alone.
	if !outputExists {
		return fmt.Errorf("%s: no output file produced: %s", h.Name, stderr.String())
	}
	return nil
}

// Driver holds one helper preference list per output extension.
type Driver struct {
	Preference map[string][]Helper // key: extension without the leading dot
}

// Mux runs ext's helper preference list in order against in, returning the
// first helper's success. When only one stream was fetched and its codec
// is container-compatible, callers should prefer a direct stream copy
// (handled by the caller passing a single-input Inputs and a "copy"-style
// Helper first in the preference list) over re-encoding.
func (d *Driver) Mux(ctx context.Context, ext string, in Inputs, output string) error {
	helpers, ok := d.Preference[ext]
	if !ok || len(helpers) == 0 {
		return fmt.Errorf("mux: no helper configured for .%s", ext)
	}
	var errs *multierror.Error
	for _, h := range helpers {
		if err := h.Probe(ctx); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err := h.run(ctx, in, output); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("mux: every helper for .%s failed: %w", ext, errs.ErrorOrNil())
}

// DefaultPreference builds the stock mp4/mkv/webm/ts helper lists from
// resolved tool paths (empty = use $PATH name), mirroring the
// with_muxer_preference default ordering (ffmpeg, vlc, mkvmerge, mp4box).
func DefaultPreference(ffmpeg, vlc, mkvmerge, mp4box string) map[string][]Helper {
	path := func(configured, fallback string) string {
		if configured != "" {
			return configured
		}
		return fallback
	}
	ff := path(ffmpeg, "ffmpeg")
	vl := path(vlc, "vlc")
	mkv := path(mkvmerge, "mkvmerge")
	box := path(mp4box, "MP4Box")

	ffmpegHelper := Helper{Name: "ffmpeg", Path: ff, TrustExitCode: true, BuildArgs: ffmpegArgs}
	vlcHelper := Helper{Name: "vlc", Path: vl, TrustExitCode: false, BuildArgs: vlcArgs}
	mkvmergeHelper := Helper{Name: "mkvmerge", Path: mkv, TrustExitCode: true, BuildArgs: mkvmergeArgs}
	mp4boxHelper := Helper{Name: "mp4box", Path: box, TrustExitCode: true, BuildArgs: mp4boxArgs}

	return map[string][]Helper{
		"mp4":  {ffmpegHelper, mp4boxHelper, vlcHelper},
		"mkv":  {mkvmergeHelper, ffmpegHelper, vlcHelper},
		"webm": {ffmpegHelper, vlcHelper},
		"avi":  {ffmpegHelper, vlcHelper},
		"ts":   {ffmpegHelper, vlcHelper},
	}
}

func ffmpegArgs(in Inputs, output string) []string {
	args := []string{"-y"}
	if in.Video != "" {
		args = append(args, "-i", in.Video)
	}
	if in.Audio != "" {
		args = append(args, "-i", in.Audio)
	}
	for _, s := range in.Subtitles {
		args = append(args, "-i", s)
	}
	args = append(args, "-c", "copy", output)
	return args
}

func vlcArgs(in Inputs, output string) []string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#transcode{}:std{access=file,mux=%s,dst=%s}", muxModuleFor(output), output)
	args := []string{}
	if in.Video != "" {
		args = append(args, in.Video)
	}
	if in.Audio != "" {
		args = append(args, in.Audio)
	}
	return append(args, "--sout", sb.String(), "vlc://quit")
}

func mkvmergeArgs(in Inputs, output string) []string {
	args := []string{"-o", output}
	if in.Video != "" {
		args = append(args, in.Video)
	}
	if in.Audio != "" {
		args = append(args, in.Audio)
	}
	args = append(args, in.Subtitles...)
	return args
}

func mp4boxArgs(in Inputs, output string) []string {
	args := []string{"-new"}
	if in.Video != "" {
		args = append(args, "-add", in.Video)
	}
	if in.Audio != "" {
		args = append(args, "-add", in.Audio)
	}
	for _, s := range in.Subtitles {
		args = append(args, "-add", s)
	}
	return append(args, output)
}

func muxModuleFor(output string) string {
	return strings.TrimPrefix(filepath.Ext(output), ".")
}
