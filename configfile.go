package backdrop

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk YAML form of Config. Every field is optional;
// unset fields leave the corresponding Config value alone.
//
//	store: ${HOME}/Pictures/Spotlight
//	candidates: ${LOCALAPPDATA}/Packages/.../LocalState/Assets
//	workers: 4
//	hash: blake3
//	notify_command: feh --bg-fill {path}
type FileConfig struct {
	Store      string `yaml:"store"`
	Candidates string `yaml:"candidates"`
	Index      string `yaml:"index"`

	ReadBufferSize   int    `yaml:"read_buffer_size"`
	SuffixProbeLimit int    `yaml:"suffix_probe_limit"`
	Extension        string `yaml:"extension"`
	Hash             string `yaml:"hash"`
	Workers          int    `yaml:"workers"`
	BaselineBatch    int    `yaml:"baseline_batch"`

	// NotifyCommand replaces the platform desktop notifier. "none" disables
	// notification.
	NotifyCommand string `yaml:"notify_command"`

	DryRun                 *bool  `yaml:"dry_run"`
	SkipNearDuplicates     *bool  `yaml:"skip_near_duplicates"`
	NearDuplicateThreshold int    `yaml:"near_duplicate_threshold"`
	MinWidth               int    `yaml:"min_width"`
	ExtractMetadata        *bool  `yaml:"extract_metadata"`
	MetricsTextfile        string `yaml:"metrics_textfile"`
	LogLevel               string `yaml:"log_level"`
}

// LoadConfigFile reads and decodes a YAML config file. Unknown keys are an
// error. ${VAR} references in path fields are expanded from the environment.
func LoadConfigFile(fsys afero.Fs, path string) (*FileConfig, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfigFile(data)
}

// ParseConfigFile decodes YAML config data. An empty document yields a zero
// FileConfig.
func ParseConfigFile(data []byte) (*FileConfig, error) {
	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	fc.Store = os.ExpandEnv(fc.Store)
	fc.Candidates = os.ExpandEnv(fc.Candidates)
	fc.Index = os.ExpandEnv(fc.Index)
	fc.MetricsTextfile = os.ExpandEnv(fc.MetricsTextfile)
	return &fc, nil
}

// Apply copies every field set in fc onto cfg.
func (fc *FileConfig) Apply(cfg *Config) {
	setString(&cfg.StoreDir, fc.Store)
	setString(&cfg.CandidateDir, fc.Candidates)
	setString(&cfg.IndexPath, fc.Index)
	setString(&cfg.Extension, fc.Extension)
	setString(&cfg.HashAlgorithm, fc.Hash)
	setString(&cfg.MetricsTextfile, fc.MetricsTextfile)

	setInt(&cfg.ReadBufferSize, fc.ReadBufferSize)
	setInt(&cfg.SuffixProbeLimit, fc.SuffixProbeLimit)
	setInt(&cfg.Workers, fc.Workers)
	setInt(&cfg.BaselineBatchSize, fc.BaselineBatch)
	setInt(&cfg.NearDuplicateThreshold, fc.NearDuplicateThreshold)
	setInt(&cfg.MinWidth, fc.MinWidth)

	if fc.DryRun != nil {
		cfg.DryRun = *fc.DryRun
	}
	if fc.SkipNearDuplicates != nil {
		cfg.SkipNearDuplicates = *fc.SkipNearDuplicates
	}
	if fc.ExtractMetadata != nil {
		cfg.ExtractMetadata = *fc.ExtractMetadata
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
