package header

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/go-cmp/cmp"
)

// Diff compares the values of two headers and returns a human-readable
// report, or "" when both define the same macros with the same values.
// Literal types take part in the comparison, so "1000" and 1000 differ.
//
// Values of macros for which redact returns true are replaced by a short
// keyed digest: a changed secret still shows up without being printed.
func Diff(a, b *File, redact func(name string) bool) string {
	return cmp.Diff(diffView(a, redact), diffView(b, redact))
}

func diffView(f *File, redact func(string) bool) map[string]string {
	out := make(map[string]string, len(f.Defines))
	for _, d := range f.Defines {
		v := d.Literal()
		if redact != nil && redact(d.Name) {
			v = Fingerprint(d.Value())
		}
		out[d.Name] = v
	}
	return out
}

// fingerprintKey is drawn once per process, so digests compare equal within
// a run but cannot be looked up in a dictionary of password hashes.
var fingerprintKey = func() []byte {
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		panic(err)
	}
	return k
}()

// Fingerprint returns a short digest that identifies a secret value within
// this process without revealing it.
func Fingerprint(v string) string {
	if v == "" {
		return "<empty>"
	}
	mac := hmac.New(sha256.New, fingerprintKey)
	mac.Write([]byte(v))
	return "<redacted " + hex.EncodeToString(mac.Sum(nil)[:4]) + ">"
}
