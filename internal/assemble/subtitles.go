package assemble

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// SubtitleConverter runs the external helper that turns a fragmented WVTT
// track into SRT, or extracts STPP/TTML. It is a thin
// wrapper so the Assembler doesn't hard-code an exec.Command call inline;
// the Muxer Driver's helper-preference iteration (internal/mux) is the
// generalization of the same idea for the final container.
type SubtitleConverter struct {
	MP4BoxPath string // empty = MP4Box not configured/available
}

// Convert inspects the track's codec-derived mimeType and produces the
// appropriate sidecar file next to outBase, returning its path.
//
//   - WVTT (fragmented mp4, codecs "wvtt") -> SRT via MP4Box, when available.
//   - STPP (fragmented mp4, codecs "stpp") -> copied unchanged to a .ttml
//     file; the TTML document is not extracted from the mp4 container.
//   - single-stream WebVTT/TTML/SAMI -> saved verbatim with its extension.
func (c *SubtitleConverter) Convert(ctx context.Context, trackPath, outBase, mimeType, codecs string) (string, error) {
	switch {
	case mimeType == "text/vtt", mimeType == "application/x-subrip":
		ext := ".vtt"
		if mimeType == "application/x-subrip" {
			ext = ".srt"
		}
		return c.copyVerbatim(trackPath, outBase+ext)
	case mimeType == "application/ttml+xml", mimeType == "application/smil+xml":
		ext := ".ttml"
		if mimeType == "application/smil+xml" {
			ext = ".smi"
		}
		return c.copyVerbatim(trackPath, outBase+ext)
	case mimeType == "application/mp4" && codecs == "wvtt":
		return c.convertWVTTtoSRT(ctx, trackPath, outBase+".srt")
	case mimeType == "application/mp4" && codecs == "stpp":
		return c.copyVerbatim(trackPath, outBase+".ttml")
	default:
		return "", fmt.Errorf("assemble: unrecognized subtitle mimeType %q", mimeType)
	}
}

func (c *SubtitleConverter) convertWVTTtoSRT(ctx context.Context, in, out string) (string, error) {
	if c.MP4BoxPath == "" {
		return "", fmt.Errorf("assemble: MP4Box not configured, cannot convert WVTT to SRT")
	}
	cmd := exec.CommandContext(ctx, c.MP4BoxPath, "-srt", "1", "-out", out, in)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("assemble: MP4Box: %w", err)
	}
	return out, nil
}

func (c *SubtitleConverter) copyVerbatim(in, out string) (string, error) {
	data, err := os.ReadFile(in)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", err
	}
	return out, nil
}
