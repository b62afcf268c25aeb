// Package concat is the Multi-Period Concatenator: it decides
// whether Periods are compatible, then either invokes a helper to
// concatenate them or emits one numbered output file per Period.
package concat

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	"kepler.sh/dashdl/mpd"
)

// PeriodTracks is the subset of a Period's selection needed to judge
// concatenation compatibility: the video/audio Representation actually
// fetched, and the assembled track paths to hand to the helper.
type PeriodTracks struct {
	Video     *mpd.Representation // nil if no video was fetched this Period
	Audio     *mpd.Representation // nil if no audio was fetched this Period
	VideoPath string
	AudioPath string
}

// Compatible reports whether every Period in periods can be concatenated
// into a single output: video Representations must share pixel
// dimensions, frame rate and pixel aspect ratio; audio Representations
// must share codec family; and audio presence/absence must agree across
// every Period, since a missing track can't be silently bridged here.
func Compatible(periods []PeriodTracks) bool {
	if len(periods) < 2 {
		return true
	}
	first := periods[0]
	hasAudio := first.Audio != nil
	for _, p := range periods[1:] {
		if (p.Audio != nil) != hasAudio {
			return false
		}
		if p.Video != nil && first.Video != nil {
			if p.Video.Width != first.Video.Width || p.Video.Height != first.Video.Height ||
				p.Video.FrameRate != first.Video.FrameRate || p.Video.SAR != first.Video.SAR {
				return false
			}
		}
		if p.Audio != nil && first.Audio != nil {
			if codecFamily(p.Audio.EffectiveCodecs()) != codecFamily(first.Audio.EffectiveCodecs()) {
				return false
			}
		}
	}
	return true
}

// codecFamily reduces a full codecs string ("mp4a.40.2") to its family
// prefix ("mp4a"), since minor profile/level digits don't affect whether
// a concat helper can splice the streams byte-for-byte.
func codecFamily(codecs string) string {
	family, _, _ := strings.Cut(codecs, ".")
	return family
}

// Helper runs an external concatenation tool (ffmpeg, mkvmerge, ...)
// against an ordered list of same-track inputs.
type Helper struct {
	Name string
	Path string
	// Args builds the command-line arguments for concatenating inputs into
	// output; ffmpeg uses a concat demuxer list file, mkvmerge takes a
	// "+"-joined argument list — both are expressed here as a closure so
	// the driver stays helper-agnostic.
	Args func(inputs []string, output string) ([]string, error)
}

// Driver tries each Helper in preference order (default: ffmpeg, then
// mkvmerge) until one exits successfully.
type Driver struct {
	Helpers []Helper
}

// DefaultHelpers returns the ffmpeg/mkvmerge preference order with paths
// resolved from the given locations (empty string = use $PATH name).
func DefaultHelpers(ffmpegPath, mkvmergePath string) []Helper {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if mkvmergePath == "" {
		mkvmergePath = "mkvmerge"
	}
	return []Helper{
		{Name: "ffmpeg", Path: ffmpegPath, Args: ffmpegConcatArgs},
		{Name: "mkvmerge", Path: mkvmergePath, Args: mkvmergeConcatArgs},
	}
}

func ffmpegConcatArgs(inputs []string, output string) ([]string, error) {
	listPath := output + ".concat.txt"
	var sb strings.Builder
	for _, in := range inputs {
		fmt.Fprintf(&sb, "file '%s'\n", filepath.ToSlash(in))
	}
	if err := os.WriteFile(listPath, []byte(sb.String()), 0o644); err != nil {
		return nil, err
	}
	return []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", output}, nil
}

func mkvmergeConcatArgs(inputs []string, output string) ([]string, error) {
	args := []string{"-o", output}
	for i, in := range inputs {
		if i > 0 {
			args = append(args, "+"+in)
		} else {
			args = append(args, in)
		}
	}
	return args, nil
}

// Concat runs d's helpers in order against inputs, returning nil as soon
// as one writes a non-empty output. Every helper's failure is collected
// into one aggregated error if all fail.
func (d *Driver) Concat(ctx context.Context, inputs []string, output string) error {
	var errs *multierror.Error
	for _, h := range d.Helpers {
		args, err := h.Args(inputs, output)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", h.Name, err))
			continue
		}
		cmd := exec.CommandContext(ctx, h.Path, args...)
		if err := cmd.Run(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", h.Name, err))
			continue
		}
		if info, err := os.Stat(output); err == nil && info.Size() > 0 {
			return nil
		}
		errs = multierror.Append(errs, fmt.Errorf("%s: produced no output", h.Name))
	}
	return fmt.Errorf("concat: every helper failed: %w", errs.ErrorOrNil())
}

// NumberedOutputPath names the Nth (1-indexed) Period's standalone output
// when concatenation is disabled or the Periods are incompatible:
// base.ext, base-p2.ext, base-p3.ext, ....
func NumberedOutputPath(base, ext string, periodIndex int) string {
	if periodIndex == 0 {
		return base + ext
	}
	return fmt.Sprintf("%s-p%d%s", base, periodIndex+1, ext)
}

// DiscardShortPeriods filters out Periods shorter than minDuration
// seconds, applied before assembly. A zero-duration Period is always
// discarded, even when minDuration itself is 0 or negative.
func DiscardShortPeriods(periods []*mpd.Period, minDuration float64) []*mpd.Period {
	var out []*mpd.Period
	for _, p := range periods {
		if p.EffectiveDuration <= 0 {
			continue
		}
		if p.EffectiveDuration < minDuration {
			continue
		}
		out = append(out, p)
	}
	return out
}
