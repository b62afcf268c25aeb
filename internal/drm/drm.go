// Package drm is the Decryptor Driver: it shells out to an external
// decryption tool to strip Common Encryption from an assembled track,
// trying each configured helper in preference order. Decryption never
// runs in-process: cenc/cbcs subsample handling (which NAL-header bytes
// stay clear inside an "encrypted" sample) is exactly the kind of format
// detail mp4decrypt and shaka-packager already get right, and duplicating
// it here would be its own source of corruption bugs.
package drm

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// KeySet maps a lowercase-hex KID to its cleartext content key, populated
// from the Downloader's AddDecryptionKey option.
type KeySet map[string][]byte

// Helper drives one external decryptor against a track file in place.
type Helper struct {
	Name string
	Path string
	// BuildArgs constructs the command line for one decrypt attempt: in is
	// the encrypted file, out is where the helper must write cleartext,
	// stream names the track kind ("audio", "video", "text-0", ...) for
	// helpers whose command line distinguishes streams.
	BuildArgs func(in, out, stream string, keys KeySet) []string
}

func (h Helper) run(ctx context.Context, in, stream string, keys KeySet) error {
	out := in + ".decrypted"
	defer os.Remove(out)

	args := h.BuildArgs(in, out, stream, keys)
	cmd := exec.CommandContext(ctx, h.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()

	info, statErr := os.Stat(out)
	outputExists := statErr == nil && info.Size() > 0
	if err != nil {
		return fmt.Errorf("%s: %w: %s", h.Name, err, stderr.String())
	}
	if !outputExists {
		return fmt.Errorf("%s: exited successfully but produced no output", h.Name)
	}
	return os.Rename(out, in)
}

// Driver tries each Helper in preference order until one exits
// successfully, mirroring internal/mux's Driver and internal/concat's
// Driver.
type Driver struct {
	Preference []Helper
}

// Decrypt runs path through d's decryptor preference list in place,
// replacing it with the cleartext output of whichever helper succeeds
// first. It is a no-op when keys is empty.
func (d *Driver) Decrypt(ctx context.Context, path, stream string, keys KeySet) error {
	if len(keys) == 0 {
		return nil
	}
	if len(d.Preference) == 0 {
		return fmt.Errorf("drm: content is encrypted but no decryptor is configured")
	}
	var errs *multierror.Error
	for _, h := range d.Preference {
		if err := h.run(ctx, path, stream, keys); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("drm: every decryptor failed: %w", errs.ErrorOrNil())
}

// DefaultPreference resolves names (caller-ordered, default
// ["mp4decrypt", "shaka-packager"]) against the known helper
// implementations, skipping any unrecognized name. Empty path arguments
// fall back to the bare tool name on $PATH.
func DefaultPreference(names []string, mp4decryptPath, shakaPackagerPath string) []Helper {
	path := func(configured, fallback string) string {
		if configured != "" {
			return configured
		}
		return fallback
	}
	byName := map[string]Helper{
		"mp4decrypt":     {Name: "mp4decrypt", Path: path(mp4decryptPath, "mp4decrypt"), BuildArgs: mp4decryptArgs},
		"shaka-packager": {Name: "shaka-packager", Path: path(shakaPackagerPath, "packager"), BuildArgs: shakaPackagerArgs},
	}
	var out []Helper
	for _, n := range names {
		if h, ok := byName[n]; ok {
			out = append(out, h)
		}
	}
	return out
}

// mp4decryptArgs mirrors Bento4's "--key KID:KEY ... input output" form,
// repeated once per configured key so a multi-KID asset decrypts in one
// pass.
func mp4decryptArgs(in, out, _ string, keys KeySet) []string {
	var args []string
	for kid, key := range keys {
		args = append(args, "--key", kid+":"+hex.EncodeToString(key))
	}
	return append(args, in, out)
}

// shakaPackagerArgs mirrors shaka-packager's raw-key decryption mode: one
// stream descriptor plus one "label=...:key_id=...:key=..." entry per
// configured key.
func shakaPackagerArgs(in, out, stream string, keys KeySet) []string {
	if stream == "" {
		stream = "0"
	}
	spec := fmt.Sprintf("in=%s,stream=%s,output=%s", in, stream, out)
	var keyArgs []string
	i := 0
	for kid, key := range keys {
		keyArgs = append(keyArgs, fmt.Sprintf("label=lbl%d:key_id=%s:key=%s", i, kid, hex.EncodeToString(key)))
		i++
	}
	return []string{spec, "--enable_raw_key_decryption", "--keys", strings.Join(keyArgs, ",")}
}
