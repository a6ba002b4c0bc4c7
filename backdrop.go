// Package backdrop collects landscape Spotlight JPEGs from a rotating asset
// directory into a date-named store, skipping content it has already seen.
//
// Each run builds a baseline of known content digests (from the persisted
// index file, or by scanning the store), classifies every candidate from a
// small header window, digests only the relevant ones, copies new content
// under a collision-free name and, when anything was copied, persists the
// index and points the desktop backdrop at the newest file.
package backdrop

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// DefaultIndexName is the index file name used inside StoreDir when
// IndexPath is empty.
const DefaultIndexName = "backdrop.hashes"

// Defaults for the remaining tunables.
const (
	DefaultExtension              = "jpg"
	DefaultBaselineBatchSize      = 64
	DefaultNearDuplicateThreshold = 10
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds everything a Pipeline needs. Zero values mean "use defaults".
type Config struct {
	StoreDir     string // managed destination directory (required)
	CandidateDir string // directory of incoming assets (required)
	IndexPath    string // default: StoreDir/backdrop.hashes

	ReadBufferSize   int    // read chunk size, default and minimum DefaultReadBufferSize
	SuffixProbeLimit int    // names tried per destination, default DefaultSuffixProbeLimit
	Extension        string // destination extension without dot, default "jpg"
	HashAlgorithm    string // AlgorithmSHA256 (default) or AlgorithmBLAKE3

	// Workers is the number of files classified concurrently. One file is
	// always read and digested by a single worker; commit stays sequential.
	Workers int // default: 1

	// BaselineBatchSize is how many store files are scanned per batch when
	// the baseline index has to be rebuilt from the store.
	BaselineBatchSize int // default: DefaultBaselineBatchSize

	// Fs is the filesystem all paths refer to. Default: the OS filesystem.
	Fs afero.Fs

	// Notifier is told about the newest accepted file. Nil disables
	// notification.
	Notifier Notifier

	// DryRun computes destinations without copying, persisting or notifying.
	DryRun bool

	// SkipNearDuplicates also rejects candidates whose perceptual hash is
	// within NearDuplicateThreshold of a file accepted earlier in the run.
	SkipNearDuplicates     bool
	NearDuplicateThreshold int // default: DefaultNearDuplicateThreshold

	// MinWidth rejects candidates narrower than this many pixels, as decoded
	// from the JPEG frame header. Zero accepts every width.
	MinWidth int

	// ExtractMetadata attaches EXIF capture info to accepted files in the report.
	ExtractMetadata bool

	// MetricsTextfile, when set, receives run counters in the Prometheus
	// text format after every run.
	MetricsTextfile string

	// Optional callbacks for auditing.
	OnClassification func(ClassificationEvent)
	OnPanic          func(tag string, r any)
}

// defaults fills zero-value fields with sensible defaults.
func (c *Config) defaults() {
	if c.IndexPath == "" && c.StoreDir != "" {
		c.IndexPath = filepath.Join(c.StoreDir, DefaultIndexName)
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.SuffixProbeLimit <= 0 {
		c.SuffixProbeLimit = DefaultSuffixProbeLimit
	}
	if c.Extension == "" {
		c.Extension = DefaultExtension
	}
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = AlgorithmSHA256
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BaselineBatchSize <= 0 {
		c.BaselineBatchSize = DefaultBaselineBatchSize
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
	if c.NearDuplicateThreshold <= 0 {
		c.NearDuplicateThreshold = DefaultNearDuplicateThreshold
	}
}

// validate reports the first configuration problem found. It expects
// defaults to have been applied.
func (c *Config) validate() error {
	switch {
	case c.StoreDir == "":
		return fmt.Errorf("%w: store directory is required", ErrInvalidConfig)
	case c.CandidateDir == "":
		return fmt.Errorf("%w: candidate directory is required", ErrInvalidConfig)
	case c.ReadBufferSize < DefaultReadBufferSize:
		return fmt.Errorf("%w: read buffer must be at least %d bytes", ErrInvalidConfig, DefaultReadBufferSize)
	case filepath.Clean(c.StoreDir) == filepath.Clean(c.CandidateDir):
		return fmt.Errorf("%w: store and candidate directory are the same", ErrInvalidConfig)
	}
	return nil
}
