package backdrop

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"
)

// DefaultReadBufferSize is the read chunk size used when Config.ReadBufferSize
// is zero. It is also the smallest accepted size.
const DefaultReadBufferSize = 4096

// Scanner classifies files from a small header window and, only for relevant
// files, extends the same read pass into a full content digest. A Scanner owns
// one read buffer and one Digester and is reused across files; it is not safe
// for concurrent use.
type Scanner struct {
	buf []byte
	dig *Digester
}

// NewScanner returns a Scanner hashing with algorithm and reading in chunks of
// bufSize bytes (DefaultReadBufferSize when zero or smaller).
func NewScanner(algorithm string, bufSize int) (*Scanner, error) {
	if bufSize < DefaultReadBufferSize {
		bufSize = DefaultReadBufferSize
	}
	dig, err := OpenDigester(algorithm)
	if err != nil {
		return nil, err
	}
	return &Scanner{buf: make([]byte, bufSize), dig: dig}, nil
}

// Scan reads r from its current position. The returned Digest is meaningful
// only when the outcome is OutcomeAccepted, in which case it covers every
// byte of r from the first read to EOF.
//
// Short input and read failures before the file is known to be relevant are
// reported as OutcomeMiss with a nil error. A read failure while digesting a
// relevant file is returned as an error.
func (s *Scanner) Scan(r io.Reader) (Digest, Outcome, error) {
	buf := s.buf

	// Initial chunk; io.ReadAtLeast keeps reading until the signature is
	// buffered, so a short first read is topped up transparently.
	n, err := io.ReadAtLeast(r, buf, SignatureLen)
	if err != nil {
		logShortRead("signature", n, err)
		return Digest{}, OutcomeMiss, nil
	}
	if !IsRecognizedFormat(buf[:SignatureLen]) {
		return Digest{}, OutcomeMiss, nil
	}

	if n < OrientationEnd {
		m, err := io.ReadAtLeast(r, buf[n:], OrientationEnd-n)
		n += m
		if err != nil {
			logShortRead("orientation", n, err)
			return Digest{}, OutcomeMiss, nil
		}
	}
	if !MeetsOrientation(buf[OrientationStart:OrientationEnd]) {
		return Digest{}, OutcomePortrait, nil
	}

	s.dig.Reset()
	_, _ = s.dig.Write(buf[:n])
	for {
		m, err := r.Read(buf)
		if m > 0 {
			_, _ = s.dig.Write(buf[:m])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.dig.Reset()
			return Digest{}, OutcomeFailed, fmt.Errorf("reading relevant file: %w", err)
		}
	}
	return s.dig.Finish(), OutcomeAccepted, nil
}

// ScanFile opens path on fsys and scans it. A file that cannot be opened is a
// miss, not an error.
func (s *Scanner) ScanFile(fsys afero.Fs, path string) (Digest, Outcome, error) {
	f, err := fsys.Open(path)
	if err != nil {
		slog.Debug("backdrop: open failed, skipping", "path", path, "error", err.Error())
		return Digest{}, OutcomeMiss, nil
	}
	defer f.Close()

	d, outcome, err := s.Scan(f)
	if err != nil {
		return Digest{}, outcome, fmt.Errorf("%s: %w", path, err)
	}
	return d, outcome, nil
}

func logShortRead(stage string, n int, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return
	}
	slog.Debug("backdrop: read failed during classification", "stage", stage, "bytes", n, "error", err.Error())
}
