package drm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// fakeHelper writes cleartext to the location BuildArgs would have told a
// real decryptor to write to, so tests don't depend on mp4decrypt or
// shaka-packager being installed.
func fakeHelper(name string, succeed bool) Helper {
	return Helper{
		Name: name,
		Path: "true",
		BuildArgs: func(in, out, stream string, keys KeySet) []string {
			if succeed {
				os.WriteFile(out, []byte("cleartext"), 0o644)
			}
			return nil
		},
	}
}

func TestDecryptIsNoOpWithoutKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.m4s")
	if err := os.WriteFile(path, []byte("encrypted"), 0o644); err != nil {
		t.Fatal(err)
	}
	d := &Driver{Preference: []Helper{fakeHelper("mp4decrypt", true)}}
	if err := d.Decrypt(context.Background(), path, "video", nil); err != nil {
		t.Fatalf("want no-op with empty KeySet, got %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "encrypted" {
		t.Fatal("file should be untouched when there are no keys")
	}
}

func TestDecryptFallsThroughPreferenceList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.m4s")
	if err := os.WriteFile(path, []byte("encrypted"), 0o644); err != nil {
		t.Fatal(err)
	}
	d := &Driver{Preference: []Helper{
		fakeHelper("broken", false),
		fakeHelper("mp4decrypt", true),
	}}
	keys := KeySet{"abcd": []byte("0123456789abcdef")}
	if err := d.Decrypt(context.Background(), path, "video", keys); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "cleartext" {
		t.Fatalf("path not replaced with cleartext: %v %q", err, got)
	}
}

func TestDecryptEveryHelperFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.m4s")
	os.WriteFile(path, []byte("encrypted"), 0o644)

	d := &Driver{Preference: []Helper{fakeHelper("mp4decrypt", false)}}
	keys := KeySet{"abcd": []byte("0123456789abcdef")}
	if err := d.Decrypt(context.Background(), path, "video", keys); err == nil {
		t.Fatal("want an error when every helper fails")
	}
	got, _ := os.ReadFile(path)
	if string(got) != "encrypted" {
		t.Fatal("original file must survive a failed decrypt attempt")
	}
}

func TestDecryptNoDecryptorConfigured(t *testing.T) {
	d := &Driver{}
	keys := KeySet{"abcd": []byte("0123456789abcdef")}
	if err := d.Decrypt(context.Background(), "/dev/null", "video", keys); err == nil {
		t.Fatal("want an error when keys are present but no decryptor is configured")
	}
}

func TestMp4decryptArgsFormatsKeyPairs(t *testing.T) {
	keys := KeySet{"deadbeef": []byte{0x01, 0x02}}
	args := mp4decryptArgs("in.mp4", "out.mp4", "", keys)
	want := []string{"--key", "deadbeef:0102", "in.mp4", "out.mp4"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestShakaPackagerArgsIncludesStreamAndKeys(t *testing.T) {
	keys := KeySet{"deadbeef": []byte{0xab}}
	args := shakaPackagerArgs("in.mp4", "out.mp4", "audio", keys)
	if args[0] != "in=in.mp4,stream=audio,output=out.mp4" {
		t.Fatalf("stream descriptor = %q", args[0])
	}
	if args[1] != "--enable_raw_key_decryption" {
		t.Fatalf("missing --enable_raw_key_decryption flag: %v", args)
	}
	if args[2] != "--keys" || args[3] != "label=lbl0:key_id=deadbeef:key=ab" {
		t.Fatalf("unexpected key arg: %v", args)
	}
}

func TestDefaultPreferenceSkipsUnknownNames(t *testing.T) {
	helpers := DefaultPreference([]string{"mp4decrypt", "bogus", "shaka-packager"}, "", "")
	if len(helpers) != 2 {
		t.Fatalf("want 2 recognized helpers, got %d: %+v", len(helpers), helpers)
	}
	if helpers[0].Name != "mp4decrypt" || helpers[1].Name != "shaka-packager" {
		t.Fatalf("unexpected order: %+v", helpers)
	}
}

func TestDefaultPreferenceUsesConfiguredPaths(t *testing.T) {
	helpers := DefaultPreference([]string{"mp4decrypt"}, "/opt/bin/mp4decrypt", "")
	if helpers[0].Path != "/opt/bin/mp4decrypt" {
		t.Fatalf("Path = %q, want configured override", helpers[0].Path)
	}
}
