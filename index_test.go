package backdrop

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/spf13/afero"
)

func testDigests(n int) []Digest {
	out := make([]Digest, n)
	for i := range out {
		out[i] = Digest(sha256.Sum256(fmt.Appendf(nil, "digest-%d", i)))
	}
	return out
}

func TestIndex_InsertContains(t *testing.T) {
	t.Parallel()

	idx := NewIndex()
	d := testDigests(2)

	if idx.Contains(d[0]) {
		t.Fatal("empty index contains digest")
	}
	if !idx.Insert(d[0]) {
		t.Error("first Insert reported existing")
	}
	if idx.Insert(d[0]) {
		t.Error("second Insert reported new")
	}
	if !idx.Contains(d[0]) || idx.Contains(d[1]) {
		t.Error("Contains disagrees with inserted set")
	}
	if idx.Len() != 1 {
		t.Errorf("Len = %d, want 1", idx.Len())
	}
}

func TestIndex_PersistLoadRoundTrip(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, indexReadRecords - 1, indexReadRecords, indexReadRecords + 1, 1000} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			t.Parallel()
			fsys := afero.NewMemMapFs()
			idx := NewIndex()
			for _, d := range testDigests(n) {
				idx.Insert(d)
			}
			if err := idx.Persist(fsys, "/store/backdrop.hashes"); err != nil {
				t.Fatalf("Persist: %v", err)
			}

			info, err := fsys.Stat("/store/backdrop.hashes")
			if err != nil {
				t.Fatalf("Stat: %v", err)
			}
			if info.Size() != int64(n*DigestSize) {
				t.Errorf("file size = %d, want %d", info.Size(), n*DigestSize)
			}

			loaded, err := LoadIndex(fsys, "/store/backdrop.hashes")
			if err != nil {
				t.Fatalf("LoadIndex: %v", err)
			}
			if loaded.Len() != n {
				t.Fatalf("loaded Len = %d, want %d", loaded.Len(), n)
			}
			for _, d := range idx.Digests() {
				if !loaded.Contains(d) {
					t.Fatalf("loaded index missing %s", d)
				}
			}
		})
	}
}

func TestReadIndex_DiscardsTrailingPartialRecord(t *testing.T) {
	t.Parallel()

	const n = 3
	var raw bytes.Buffer
	for _, d := range testDigests(n) {
		raw.Write(d[:])
	}
	raw.Write([]byte{1, 2, 3, 4, 5})

	idx, err := ReadIndex(&raw)
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if idx.Len() != n {
		t.Errorf("Len = %d, want %d", idx.Len(), n)
	}
}

func TestReadIndex_Empty(t *testing.T) {
	t.Parallel()

	idx, err := ReadIndex(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("ReadIndex: %v", err)
	}
	if idx.Len() != 0 {
		t.Errorf("Len = %d, want 0", idx.Len())
	}
}

func TestLoadIndex_Missing(t *testing.T) {
	t.Parallel()

	_, err := LoadIndex(afero.NewMemMapFs(), "/missing.hashes")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("LoadIndex error = %v, want os.ErrNotExist", err)
	}
}

func TestIndex_PersistTruncatesPrevious(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/idx", bytes.Repeat([]byte{0xAA}, 10*DigestSize), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	idx := NewIndex()
	idx.Insert(testDigests(1)[0])
	if err := idx.Persist(fsys, "/idx"); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	data, err := afero.ReadFile(fsys, "/idx")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != DigestSize {
		t.Errorf("index file = %d bytes, want %d", len(data), DigestSize)
	}
}

func TestIndex_Merge(t *testing.T) {
	t.Parallel()

	d := testDigests(4)
	a, b := NewIndex(), NewIndex()
	a.Insert(d[0])
	a.Insert(d[1])
	b.Insert(d[1])
	b.Insert(d[2])
	b.Insert(d[3])

	if added := a.Merge(b); added != 2 {
		t.Errorf("Merge added %d, want 2", added)
	}
	if a.Len() != 4 {
		t.Errorf("Len after merge = %d, want 4", a.Len())
	}
}
