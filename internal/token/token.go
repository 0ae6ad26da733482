// Package token derives and checks the capability filenames embedded in
// display image URLs. The server keeps no per-token state: a filename is
// re-derived from the device API key and the issuance timestamp carried in
// the URL, and compared.
package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// FileSuffix is appended to every issued filename
const FileSuffix = ".bmp"

// Issue returns the capability filename for identity at issuedAt. The
// digest is SHA-256 over the identity bytes followed by the big-endian
// unix seconds of issuedAt. Issue is deterministic.
func Issue(identity string, issuedAt time.Time) string {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(issuedAt.Unix()))

	h := sha256.New()
	h.Write([]byte(identity))
	h.Write(ts[:])
	return hex.EncodeToString(h.Sum(nil)) + FileSuffix
}

// Verify reports whether candidate is exactly the filename Issue would
// return for identity and issuedAt.
func Verify(candidate, identity string, issuedAt time.Time) bool {
	expected := Issue(identity, issuedAt)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1
}

// IsExpired reports whether more than ttl has elapsed between issuedAt and
// now. Elapsed time is measured in whole seconds, matching the resolution
// of the timestamp carried in the URL.
func IsExpired(issuedAt, now time.Time, ttl time.Duration) bool {
	elapsed := now.Unix() - issuedAt.Unix()
	return elapsed > int64(ttl/time.Second)
}
