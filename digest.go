package backdrop

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"

	sha256 "github.com/minio/sha256-simd"
	"github.com/zeebo/blake3"
)

// DigestSize is the length in bytes of every Digest and of every record in
// the persisted index file.
const DigestSize = 32

// Hash algorithm names accepted by OpenDigester.
const (
	AlgorithmSHA256 = "sha256"
	AlgorithmBLAKE3 = "blake3"
)

// ErrAlgorithmUnavailable is returned when the requested hash primitive cannot
// be constructed. A run cannot proceed without one.
var ErrAlgorithmUnavailable = errors.New("hash algorithm unavailable")

// Digest is the content-addressed key of a file.
type Digest [DigestSize]byte

// String returns the lowercase hex encoding of d.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses a 64-character hex string into a Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parsing digest: %w", err)
	}
	if len(raw) != DigestSize {
		return d, fmt.Errorf("digest is %d bytes, want %d", len(raw), DigestSize)
	}
	copy(d[:], raw)
	return d, nil
}

var digestConstructors = map[string]func() hash.Hash{
	AlgorithmSHA256: sha256.New,
	AlgorithmBLAKE3: func() hash.Hash { return blake3.New() },
}

// Digester is a reusable hashing session. Bytes written to it are hashed in
// order; Finish yields the digest of everything written since the session was
// opened or last finished, and leaves the session ready for the next input.
//
// A Digester is not safe for concurrent use.
type Digester struct {
	algorithm string
	h         hash.Hash
	sum       []byte
}

// OpenDigester acquires a hashing session for algorithm. An empty name selects
// AlgorithmSHA256.
func OpenDigester(algorithm string) (*Digester, error) {
	if algorithm == "" {
		algorithm = AlgorithmSHA256
	}
	newHash, ok := digestConstructors[algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAlgorithmUnavailable, algorithm)
	}
	h := newHash()
	if h.Size() != DigestSize {
		return nil, fmt.Errorf("%w: %q produces %d-byte digests", ErrAlgorithmUnavailable, algorithm, h.Size())
	}
	return &Digester{
		algorithm: algorithm,
		h:         h,
		sum:       make([]byte, 0, DigestSize),
	}, nil
}

// Algorithm reports the name of the underlying primitive.
func (d *Digester) Algorithm() string { return d.algorithm }

// Write feeds one chunk. It never returns an error.
func (d *Digester) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Finish finalizes the current input and resets the session.
func (d *Digester) Finish() Digest {
	var out Digest
	d.sum = d.h.Sum(d.sum[:0])
	copy(out[:], d.sum)
	d.h.Reset()
	return out
}

// Reset discards any bytes written since the last Finish.
func (d *Digester) Reset() {
	d.h.Reset()
}
