package mux

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// fakeHelper writes a placeholder output file so tests don't depend on a
// real ffmpeg/vlc binary being installed.
func fakeHelper(name string, trustExitCode, succeed bool) Helper {
	return Helper{
		Name:          name,
		Path:          "true",
		TrustExitCode: trustExitCode,
		BuildArgs: func(in Inputs, output string) []string {
			if succeed {
				os.WriteFile(output, []byte("muxed"), 0o644)
			}
			return nil
		},
	}
}

func TestMuxFallsThroughPreferenceList(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.mp4")

	d := &Driver{Preference: map[string][]Helper{
		"mp4": {fakeHelper("broken", true, false), fakeHelper("works", true, true)},
	}}
	if err := d.Mux(context.Background(), "mp4", Inputs{Video: "v.mp4"}, output); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(output)
	if err != nil || string(data) != "muxed" {
		t.Fatalf("output missing or wrong: %v %q", err, data)
	}
}

func TestMuxVLCSuccessInferredFromOutputFile(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.mp4")

	// TrustExitCode=false: "true" exits 0 with no output — must still fail
	// since vlc's exit code can't be trusted and no file was produced.
	d := &Driver{Preference: map[string][]Helper{
		"mp4": {fakeHelper("vlc", false, false)},
	}}
	if err := d.Mux(context.Background(), "mp4", Inputs{}, output); err == nil {
		t.Fatal("want error: no output file was produced")
	}
}

func TestMuxUnknownExtension(t *testing.T) {
	d := &Driver{Preference: map[string][]Helper{}}
	if err := d.Mux(context.Background(), "xyz", Inputs{}, "out.xyz"); err == nil {
		t.Fatal("want error for unconfigured extension")
	}
}
