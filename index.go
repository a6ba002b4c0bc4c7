package backdrop

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/afero"
)

// indexReadRecords is how many digest records LoadIndex pulls per read.
const indexReadRecords = 128

// Index is the set of content digests already present in the store.
// It is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	digests map[Digest]struct{}
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{digests: make(map[Digest]struct{})}
}

// LoadIndex reads a persisted index file: a flat concatenation of
// DigestSize-byte records with no header. A trailing partial record is
// discarded. When path does not exist the returned error wraps
// os.ErrNotExist.
func LoadIndex(fsys afero.Fs, path string) (*Index, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", path, err)
	}
	defer f.Close()

	idx, err := ReadIndex(f)
	if err != nil {
		return nil, fmt.Errorf("reading index %s: %w", path, err)
	}
	return idx, nil
}

// ReadIndex decodes index records from r until EOF.
func ReadIndex(r io.Reader) (*Index, error) {
	idx := NewIndex()
	buf := make([]byte, indexReadRecords*DigestSize)
	for {
		n, err := io.ReadFull(r, buf)
		records := n / DigestSize
		for i := range records {
			var d Digest
			copy(d[:], buf[i*DigestSize:(i+1)*DigestSize])
			idx.digests[d] = struct{}{}
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			return idx, nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			if rem := n % DigestSize; rem != 0 {
				slog.Debug("backdrop: discarding partial index record", "bytes", rem)
			}
			return idx, nil
		default:
			return nil, err
		}
	}
}

// Contains reports whether d is in the index.
func (x *Index) Contains(d Digest) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.digests[d]
	return ok
}

// Insert adds d and reports whether it was not already present.
func (x *Index) Insert(d Digest) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.digests[d]; ok {
		return false
	}
	x.digests[d] = struct{}{}
	return true
}

// Merge inserts every digest of other and returns how many were new.
func (x *Index) Merge(other *Index) int {
	added := 0
	for _, d := range other.Digests() {
		if x.Insert(d) {
			added++
		}
	}
	return added
}

// Len returns the number of digests.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.digests)
}

// Digests returns a snapshot of all digests in no particular order.
func (x *Index) Digests() []Digest {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Digest, 0, len(x.digests))
	for d := range x.digests {
		out = append(out, d)
	}
	return out
}

// WriteTo writes every digest as a raw DigestSize-byte record.
func (x *Index) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var total int64
	for _, d := range x.Digests() {
		n, err := bw.Write(d[:])
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, bw.Flush()
}

// Persist overwrites path with the current contents of the index.
func (x *Index) Persist(fsys afero.Fs, path string) error {
	f, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", path, err)
	}
	if _, err := x.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing index %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing index %s: %w", path, err)
	}
	return nil
}
