package hashutil

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Hashes holds the digests recorded for a submitted artifact. The scanning
// service echoes the same digests back in its report, which lets us verify a
// completed report really describes the bytes we sent.
type Hashes struct {
	MD5    string
	SHA1   string
	SHA256 string
}

// Sum computes all three digests in a single pass over r.
func Sum(r io.Reader) (Hashes, error) {
	md5h := md5.New()
	sha1h := sha1.New()
	sha256h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(md5h, sha1h, sha256h), r); err != nil {
		return Hashes{}, fmt.Errorf("hashing artifact: %w", err)
	}
	return Hashes{
		MD5:    hex.EncodeToString(md5h.Sum(nil)),
		SHA1:   hex.EncodeToString(sha1h.Sum(nil)),
		SHA256: hex.EncodeToString(sha256h.Sum(nil)),
	}, nil
}

// SumBytes is Sum over an in-memory artifact.
func SumBytes(b []byte) Hashes {
	// Reading from memory cannot fail.
	h, _ := Sum(bytes.NewReader(b))
	return h
}
