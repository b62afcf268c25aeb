// Package assemble is the Period Assembler: for each Period, it
// fetches init + media segments for every chosen track, writes them to a
// temp file, optionally decrypts, and optionally converts subtitles.
package assemble

import (
	"context"
	"fmt"
	"log"
	"os"

	"kepler.sh/dashdl/internal/addressing"
	"kepler.sh/dashdl/internal/drm"
	"kepler.sh/dashdl/mpd"
)

// Getter is the subset of *fetch.Fetcher the assembler depends on, kept as
// an interface so tests can substitute a stub.
type Getter interface {
	Get(ctx context.Context, trackID string, ref addressing.SegmentRef, expectedMimeType string) ([]byte, error)
}

// Track is one selected Representation plus its resolved segment plan.
type Track struct {
	Kind           string // "audio", "video", or "text-N" for the Nth subtitle track
	Representation *mpd.Representation
	Refs           []addressing.SegmentRef
}

// Output is the on-disk result for one track: lifecycle runs from
// assembly start to concatenation, then unlinked unless keepPath was set.
type Output struct {
	Kind string
	Path string
	Kept bool
}

// Assembler writes Tracks to temp files and drives decryption/subtitle
// post-processing.
type Assembler struct {
	Getter      Getter
	Logger      *log.Logger
	TempDir     string
	SaveFragDir string // the save_fragments_to, empty = no retention
	Keys        drm.KeySet
	Decryptor   *drm.Driver // nil is only safe when Keys is empty
	KeepAudio   string      // non-empty = final audio path to keep at
	KeepVideo   string
}

func (a *Assembler) logger() *log.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return log.Default()
}

// Assemble writes every track in tracks to its own temp file, in the
// ordering the requires (init before any media segment, media segments in
// presentation order), then decrypts tracks with ContentProtection when a
// matching key is configured.
func (a *Assembler) Assemble(ctx context.Context, tracks []Track) ([]Output, error) {
	outputs := make([]Output, 0, len(tracks))
	for _, tr := range tracks {
		out, err := a.assembleTrack(ctx, tr)
		if err != nil {
			return nil, fmt.Errorf("assemble: track %s: %w", tr.Kind, err)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func (a *Assembler) assembleTrack(ctx context.Context, tr Track) (Output, error) {
	f, err := os.CreateTemp(a.TempDir, "dashdl-"+tr.Kind+"-*.tmp")
	if err != nil {
		return Output{}, err
	}
	path := f.Name()
	defer f.Close()

	mimeType := tr.Representation.EffectiveMimeType()
	for _, ref := range tr.Refs {
		data, err := a.Getter.Get(ctx, tr.Kind, ref, mimeType)
		if err != nil {
			return Output{}, fmt.Errorf("%s: %w", ref.URL, err)
		}
		if _, err := f.Write(data); err != nil {
			return Output{}, fmt.Errorf("io: writing %s: %w", path, err)
		}
	}

	if needsDecryption(tr.Representation) && len(a.Keys) > 0 {
		if a.Decryptor == nil {
			return Output{}, fmt.Errorf("decrypt: content is encrypted but no decryptor driver is configured")
		}
		if err := a.Decryptor.Decrypt(ctx, path, tr.Kind, a.Keys); err != nil {
			return Output{}, fmt.Errorf("decrypt: %w", err)
		}
	}

	out := Output{Kind: tr.Kind, Path: path}
	if keep := a.keepPathFor(tr.Kind); keep != "" {
		if err := os.Rename(path, keep); err != nil {
			return Output{}, fmt.Errorf("io: %w", err)
		}
		out.Path = keep
		out.Kept = true
	}
	a.logger().Printf("assemble: wrote %s (%d segments)", out.Path, len(tr.Refs))
	return out, nil
}

func (a *Assembler) keepPathFor(kind string) string {
	switch kind {
	case "audio":
		return a.KeepAudio
	case "video":
		return a.KeepVideo
	}
	return ""
}

func needsDecryption(rep *mpd.Representation) bool {
	if len(rep.ContentProtection) > 0 {
		return true
	}
	if rep.Parent != nil && len(rep.Parent.ContentProtection) > 0 {
		return true
	}
	return false
}

// Cleanup removes every output not marked Kept, used on cancellation and
// after a successful mux/concat (the ownership invariant: the downloader
// exclusively owns every temp file it creates).
func Cleanup(outputs []Output) {
	for _, o := range outputs {
		if !o.Kept {
			os.Remove(o.Path)
		}
	}
}
