// Package paeon provides the shared content-digest primitives used by the
// dataset cache. A digest is the fallback freshness indicator for origins
// that publish neither an ETag nor a Last-Modified header.
package paeon

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// DigestSize is the size of a BLAKE3 digest in bytes (256 bits).
const DigestSize = 32

// Digest is a BLAKE3 256-bit content digest.
type Digest [DigestSize]byte

// String returns the hex-encoded representation of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ShortString returns a shortened hex representation for log output.
func (d Digest) ShortString() string {
	return hex.EncodeToString(d[:8])
}

// IsZero returns true if the digest is all zeros (uninitialized).
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) != DigestSize*2 {
		return fmt.Errorf("invalid digest length: expected %d hex chars, got %d", DigestSize*2, len(text))
	}
	_, err := hex.Decode(d[:], text)
	return err
}

// ParseDigest parses a hex-encoded digest string.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if err := d.UnmarshalText([]byte(s)); err != nil {
		return Digest{}, err
	}
	return d, nil
}

// DigestBytes computes the BLAKE3 digest of the given bytes.
func DigestBytes(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// DigestReader computes the BLAKE3 digest of content from the reader.
// It returns the digest and the number of bytes read.
func DigestReader(r io.Reader) (Digest, int64, error) {
	h := blake3.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, n, fmt.Errorf("digesting content: %w", err)
	}
	var d Digest
	h.Sum(d[:0])
	return d, n, nil
}

// DigestingReader wraps a reader and computes the digest as data is read.
type DigestingReader struct {
	r io.Reader
	h *blake3.Hasher
	n int64
}

// NewDigestingReader creates a reader that computes a digest as data is read.
func NewDigestingReader(r io.Reader) *DigestingReader {
	return &DigestingReader{
		r: r,
		h: blake3.New(),
	}
}

// Read implements io.Reader.
func (dr *DigestingReader) Read(p []byte) (int, error) {
	n, err := dr.r.Read(p)
	if n > 0 {
		dr.h.Write(p[:n])
		dr.n += int64(n)
	}
	return n, err
}

// Sum returns the digest of all bytes read so far.
func (dr *DigestingReader) Sum() Digest {
	var d Digest
	dr.h.Sum(d[:0])
	return d
}

// BytesRead returns the number of bytes read so far.
func (dr *DigestingReader) BytesRead() int64 {
	return dr.n
}
