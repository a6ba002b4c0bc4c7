package backdrop

import "bytes"

// Classification window boundaries. Spotlight assets store the frame height
// at [163,165) and the width at [165,167) as big-endian uint16s. This holds
// for that producer only and is not a general JPEG parser.
const (
	SignatureLen     = 12
	OrientationStart = 163
	OrientationEnd   = 167
)

// JFIFSignature is the fixed 12-byte prefix of a JFIF 1.01 JPEG file.
var JFIFSignature = [SignatureLen]byte{
	0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46, 0x00, 0x01,
}

// IsRecognizedFormat reports whether window starts with JFIFSignature.
// Windows shorter than the signature never match.
func IsRecognizedFormat(window []byte) bool {
	if len(window) < SignatureLen {
		return false
	}
	return bytes.Equal(window[:SignatureLen], JFIFSignature[:])
}

// MeetsOrientation reports whether the first big-endian field of the 4-byte
// window sorts before the second one, i.e. height < width (landscape).
func MeetsOrientation(window []byte) bool {
	const n = OrientationEnd - OrientationStart
	if len(window) < n {
		return false
	}
	return bytes.Compare(window[0:2], window[2:4]) < 0
}

// Outcome is the result of classifying one file.
type Outcome int

const (
	OutcomeMiss          Outcome = iota // not a recognized JPEG or too short
	OutcomePortrait                     // recognized but fails the orientation check
	OutcomeAccepted                     // recognized landscape, digest computed
	OutcomeDuplicate                    // digest already known
	OutcomeFailed                       // I/O error on a relevant file
	OutcomeNearDuplicate                // perceptually identical to a file accepted this run
	OutcomeSkipped                      // no free destination name
	OutcomeTooSmall                     // narrower than Config.MinWidth
)

// String returns the lowercase name used in logs and metrics labels.
func (o Outcome) String() string {
	switch o {
	case OutcomeMiss:
		return "miss"
	case OutcomePortrait:
		return "portrait"
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFailed:
		return "failed"
	case OutcomeNearDuplicate:
		return "near_duplicate"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeTooSmall:
		return "too_small"
	default:
		return "unknown"
	}
}

// ClassificationEvent is passed to Config.OnClassification once for every
// file the pipeline classifies. Digest is zero for misses, portraits and
// failures.
type ClassificationEvent struct {
	Path    string
	Phase   string // "baseline" or "discovery"
	Outcome Outcome
	Digest  Digest
}
