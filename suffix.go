package backdrop

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/afero"
)

// DefaultSuffixProbeLimit bounds how many suffixes are tried for one
// destination before giving up.
const DefaultSuffixProbeLimit = 100

// ErrAllocatorExhausted is returned by FirstFree when every probed name is
// already taken.
var ErrAllocatorExhausted = errors.New("no free destination name")

// SuffixAllocator generates base+"a"+"."+ext, base+"b"+"."+ext, …,
// base+"z"+…, base+"aa"+…, counting in base 26 over lowercase letters with
// the rightmost position moving fastest. The sequence is infinite and the
// same base and extension always reproduce it.
type SuffixAllocator struct {
	base   string
	ext    string
	digits []byte // current suffix, empty before the first Next
}

// NewSuffixAllocator returns an allocator positioned before the first name.
// ext is given without the leading dot.
func NewSuffixAllocator(base, ext string) *SuffixAllocator {
	return &SuffixAllocator{base: base, ext: ext}
}

// Next advances to and returns the next candidate path.
func (a *SuffixAllocator) Next() string {
	a.advance()
	return a.base + string(a.digits) + "." + a.ext
}

// Suffix returns the letters of the most recent name, or "" before the first
// call to Next.
func (a *SuffixAllocator) Suffix() string { return string(a.digits) }

// Reset rewinds the allocator to before the first name.
func (a *SuffixAllocator) Reset() { a.digits = a.digits[:0] }

// Take returns the next n candidate paths.
func (a *SuffixAllocator) Take(n int) []string {
	out := make([]string, 0, n)
	for range n {
		out = append(out, a.Next())
	}
	return out
}

func (a *SuffixAllocator) advance() {
	for i := len(a.digits) - 1; i >= 0; i-- {
		if a.digits[i] < 'z' {
			a.digits[i]++
			return
		}
		a.digits[i] = 'a'
	}
	// Every position overflowed (or there were none): grow by one leading 'a'.
	a.digits = append(a.digits, 0)
	copy(a.digits[1:], a.digits)
	a.digits[0] = 'a'
}

// FirstFree probes names from a fresh allocator for base and ext and returns
// the first one that does not exist on fsys. At most limit names are tried.
func FirstFree(fsys afero.Fs, base, ext string, limit int) (string, error) {
	if limit <= 0 {
		limit = DefaultSuffixProbeLimit
	}
	alloc := NewSuffixAllocator(base, ext)
	for range limit {
		candidate := alloc.Next()
		_, err := fsys.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("probing %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("%w: %d names tried for %s*.%s", ErrAllocatorExhausted, limit, base, ext)
}
