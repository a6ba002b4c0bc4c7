package backdrop

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/spf13/afero"
)

// makeSpotlightAsset returns a byte stream that passes the header checks
// used for Spotlight assets: the JFIF signature, height/width at [163,167),
// and size-167 bytes of deterministic filler derived from seed.
func makeSpotlightAsset(height, width uint16, size int, seed byte) []byte {
	if size < OrientationEnd {
		size = OrientationEnd
	}
	data := make([]byte, size)
	copy(data, JFIFSignature[:])
	for i := SignatureLen; i < OrientationStart; i++ {
		data[i] = byte(i)
	}
	binary.BigEndian.PutUint16(data[OrientationStart:], height)
	binary.BigEndian.PutUint16(data[OrientationStart+2:], width)
	for i := OrientationEnd; i < size; i++ {
		data[i] = byte(i%251) ^ seed
	}
	return data
}

func newTestScanner(t *testing.T) *Scanner {
	t.Helper()
	s, err := NewScanner(AlgorithmSHA256, 0)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	return s
}

// countingReader records how many Read calls reached the underlying reader.
type countingReader struct {
	r     io.Reader
	calls int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.calls++
	return c.r.Read(p)
}

func TestScan_ShortFilesNeverMatch(t *testing.T) {
	t.Parallel()

	s := newTestScanner(t)
	for n := 0; n < SignatureLen; n++ {
		_, outcome, err := s.Scan(bytes.NewReader(JFIFSignature[:n]))
		if err != nil {
			t.Fatalf("len %d: unexpected error %v", n, err)
		}
		if outcome != OutcomeMiss {
			t.Errorf("len %d: outcome = %v, want miss", n, outcome)
		}
	}
}

func TestScan_SignatureButNoOrientationWindow(t *testing.T) {
	t.Parallel()

	s := newTestScanner(t)
	data := makeSpotlightAsset(1080, 1920, 0, 0)[:OrientationEnd-1]
	_, outcome, err := s.Scan(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeMiss {
		t.Errorf("outcome = %v, want miss", outcome)
	}
}

func TestScan_LandscapeDigestCoversWholeFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		size int
		wrap func(io.Reader) io.Reader
	}{
		{name: "exactly the window", size: OrientationEnd, wrap: func(r io.Reader) io.Reader { return r }},
		{name: "smaller than buffer", size: 1000, wrap: func(r io.Reader) io.Reader { return r }},
		{name: "exactly one buffer", size: DefaultReadBufferSize, wrap: func(r io.Reader) io.Reader { return r }},
		{name: "several buffers", size: 3*DefaultReadBufferSize + 17, wrap: func(r io.Reader) io.Reader { return r }},
		{name: "one byte reads", size: 2*DefaultReadBufferSize + 5, wrap: iotest.OneByteReader},
		{name: "half reads", size: 5*DefaultReadBufferSize + 1, wrap: iotest.HalfReader},
		{name: "data with EOF", size: 9000, wrap: iotest.DataErrReader},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestScanner(t)
			data := makeSpotlightAsset(1080, 1920, tc.size, 0x5A)
			got, outcome, err := s.Scan(tc.wrap(bytes.NewReader(data)))
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if outcome != OutcomeAccepted {
				t.Fatalf("outcome = %v, want accepted", outcome)
			}
			if want := Digest(sha256.Sum256(data)); got != want {
				t.Errorf("digest = %s, want %s", got, want)
			}
		})
	}
}

func TestScan_Portrait(t *testing.T) {
	t.Parallel()

	s := newTestScanner(t)
	data := makeSpotlightAsset(1920, 1080, 5000, 0)
	got, outcome, err := s.Scan(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if outcome != OutcomePortrait {
		t.Errorf("outcome = %v, want portrait", outcome)
	}
	if got != (Digest{}) {
		t.Errorf("portrait file produced digest %s", got)
	}
}

func TestScan_NonMatchingStopsAfterFirstRead(t *testing.T) {
	t.Parallel()

	s := newTestScanner(t)
	data := bytes.Repeat([]byte{0x42}, 10*DefaultReadBufferSize)
	cr := &countingReader{r: bytes.NewReader(data)}
	_, outcome, err := s.Scan(cr)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if outcome != OutcomeMiss {
		t.Errorf("outcome = %v, want miss", outcome)
	}
	if cr.calls != 1 {
		t.Errorf("Read calls = %d, want 1", cr.calls)
	}
}

func TestScan_ReadErrorBeforeRelevanceIsMiss(t *testing.T) {
	t.Parallel()

	s := newTestScanner(t)
	r := io.MultiReader(bytes.NewReader(JFIFSignature[:4]), iotest.ErrReader(errors.New("disk on fire")))
	_, outcome, err := s.Scan(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeMiss {
		t.Errorf("outcome = %v, want miss", outcome)
	}
}

func TestScan_ReadErrorWhileDigestingIsReturned(t *testing.T) {
	t.Parallel()

	s := newTestScanner(t)
	boom := errors.New("disk on fire")
	header := makeSpotlightAsset(1080, 1920, 500, 0)
	r := io.MultiReader(bytes.NewReader(header), iotest.ErrReader(boom))
	_, outcome, err := s.Scan(r)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if outcome != OutcomeFailed {
		t.Errorf("outcome = %v, want failed", outcome)
	}

	// The scanner must be clean for the next file after a failure.
	data := makeSpotlightAsset(1080, 1920, 700, 1)
	got, _, err := s.Scan(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Scan after failure: %v", err)
	}
	if want := Digest(sha256.Sum256(data)); got != want {
		t.Errorf("digest after failure = %s, want %s", got, want)
	}
}

func TestScan_Idempotent(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	data := makeSpotlightAsset(1080, 1920, 12345, 7)
	if err := afero.WriteFile(fsys, "/assets/one", data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := newTestScanner(t)
	first, _, err := s.ScanFile(fsys, "/assets/one")
	if err != nil {
		t.Fatalf("first ScanFile: %v", err)
	}
	second, _, err := s.ScanFile(fsys, "/assets/one")
	if err != nil {
		t.Fatalf("second ScanFile: %v", err)
	}
	if first != second {
		t.Errorf("ScanFile not deterministic: %s != %s", first, second)
	}
}

func TestScanFile_MissingIsMiss(t *testing.T) {
	t.Parallel()

	s := newTestScanner(t)
	_, outcome, err := s.ScanFile(afero.NewMemMapFs(), "/nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeMiss {
		t.Errorf("outcome = %v, want miss", outcome)
	}
}

func TestNewScanner_ClampsBuffer(t *testing.T) {
	t.Parallel()

	s, err := NewScanner("", 16)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	if len(s.buf) != DefaultReadBufferSize {
		t.Errorf("buffer = %d bytes, want %d", len(s.buf), DefaultReadBufferSize)
	}
}
