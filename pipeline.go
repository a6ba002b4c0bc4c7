package backdrop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Phase names used in ClassificationEvent and metrics.
const (
	PhaseBaseline  = "baseline"
	PhaseDiscovery = "discovery"
)

// ErrCopyFailed wraps every failure to materialize an accepted file in the
// store. It aborts the run before the index is persisted.
var ErrCopyFailed = errors.New("copy failed")

// Candidate is a newly discovered file whose digest is not in the baseline.
type Candidate struct {
	Path    string
	Digest  Digest
	Created time.Time
}

// Accepted describes one file copied (or, in a dry run, planned) into the store.
type Accepted struct {
	Source      string
	Destination string
	Digest      Digest
	Bytes       int64
	Capture     *CaptureInfo // nil unless Config.ExtractMetadata is set
}

// Report summarizes one run.
type Report struct {
	BaselineSize     int  // digests known before discovery
	BaselineFromFile bool // baseline came from the index file, not a store scan

	Scanned        int // candidate files classified
	Recognized     int // candidates that were landscape JPEGs
	Duplicates     int // recognized candidates whose content was already known
	NearDuplicates int // rejected by the perceptual filter
	Skipped        int // no free destination name
	TooSmall       int // narrower than Config.MinWidth

	Accepted     []Accepted
	LastAccepted string
	Persisted    bool
	DryRun       bool
}

// Pipeline runs classify + hash + dedup + name over a candidate directory.
// A Pipeline may be run repeatedly but not concurrently.
type Pipeline struct {
	cfg      Config
	scanners chan *Scanner
	metrics  *runMetrics
}

// New validates cfg and acquires one Scanner per worker. It fails with
// ErrAlgorithmUnavailable when the hash primitive cannot be constructed.
func New(cfg Config) (*Pipeline, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	scanners := make(chan *Scanner, cfg.Workers)
	for range cfg.Workers {
		s, err := NewScanner(cfg.HashAlgorithm, cfg.ReadBufferSize)
		if err != nil {
			return nil, err
		}
		scanners <- s
	}

	return &Pipeline{
		cfg:      cfg,
		scanners: scanners,
		metrics:  newRunMetrics(),
	}, nil
}

// Config returns the effective configuration, defaults applied.
func (p *Pipeline) Config() Config { return p.cfg }

// Run executes one baseline -> discovery -> commit -> finalize pass. The index
// file is written only when at least one file was copied and no fatal error
// occurred.
func (p *Pipeline) Run(ctx context.Context) (report *Report, err error) {
	report = &Report{DryRun: p.cfg.DryRun}
	index := NewIndex()
	defer func() {
		p.metrics.finish(index.Len(), err)
		if p.cfg.MetricsTextfile != "" && !p.cfg.DryRun {
			if werr := p.metrics.writeTextfile(p.cfg.MetricsTextfile); werr != nil {
				slog.Warn("backdrop: metrics not written", "error", werr.Error())
			}
		}
	}()

	// Dry runs write into an in-memory layer so that name probing still
	// sees the files planned earlier in the same run.
	store := p.cfg.Fs
	if p.cfg.DryRun {
		store = afero.NewCopyOnWriteFs(afero.NewReadOnlyFs(p.cfg.Fs), afero.NewMemMapFs())
	}

	baseline, stored, fromFile, err := p.baseline(ctx)
	if err != nil {
		return report, err
	}
	index = baseline
	report.BaselineFromFile = fromFile
	report.BaselineSize = index.Len()
	slog.Info("backdrop: baseline ready", "digests", report.BaselineSize, "from_file", report.BaselineFromFile)

	// The perceptual filter starts from everything already kept: store files
	// when the store was scanned, and candidates whose digest is known.
	var near *nearDuplicateFilter
	if p.cfg.SkipNearDuplicates {
		near = newNearDuplicateFilter(p.cfg.NearDuplicateThreshold)
		p.seedNearDuplicates(near, stored)
	}

	candidates, err := p.discover(ctx, index, near, report)
	if err != nil {
		return report, err
	}

	if err := p.commit(ctx, store, index, near, candidates, report); err != nil {
		return report, err
	}

	if len(report.Accepted) == 0 {
		slog.Info("backdrop: nothing new", "scanned", report.Scanned, "duplicates", report.Duplicates)
		return report, nil
	}
	return report, p.finalize(ctx, store, index, report)
}

// RebuildIndex discards any persisted index, rebuilds it by scanning the
// store directory, and persists the result.
func (p *Pipeline) RebuildIndex(ctx context.Context) (*Index, error) {
	index, _, err := p.scanStore(ctx)
	if err != nil {
		return nil, err
	}
	if p.cfg.DryRun {
		return index, nil
	}
	if err := index.Persist(p.cfg.Fs, p.cfg.IndexPath); err != nil {
		return nil, err
	}
	slog.Info("backdrop: index rebuilt", "digests", index.Len(), "path", p.cfg.IndexPath)
	return index, nil
}

// baseline returns the known digests and, when they came from a store scan,
// the store files that produced them.
func (p *Pipeline) baseline(ctx context.Context) (*Index, []string, bool, error) {
	index, err := LoadIndex(p.cfg.Fs, p.cfg.IndexPath)
	if err == nil {
		return index, nil, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, false, err
	}
	slog.Info("backdrop: no index file, scanning store", "store", p.cfg.StoreDir)
	index, stored, err := p.scanStore(ctx)
	return index, stored, false, err
}

// scanStore classifies the store directory in batches and collects every
// digest along with the paths of the recognized files. Batching bounds how
// many results are held at once; it does not change the resulting set.
func (p *Pipeline) scanStore(ctx context.Context) (*Index, []string, error) {
	entries, err := p.listFiles(p.cfg.StoreDir)
	if errors.Is(err, fs.ErrNotExist) {
		// First run: the store is created on the first copy.
		return NewIndex(), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	index := NewIndex()
	var stored []string
	for start := 0; start < len(entries); start += p.cfg.BaselineBatchSize {
		end := min(start+p.cfg.BaselineBatchSize, len(entries))
		results, err := p.scanAll(ctx, PhaseBaseline, p.cfg.StoreDir, entries[start:end])
		if err != nil {
			return nil, nil, err
		}
		for _, r := range results {
			if r.outcome == OutcomeAccepted {
				index.Insert(r.digest)
				stored = append(stored, r.path)
			}
		}
	}
	return index, stored, nil
}

// seedNearDuplicates remembers the perceptual hashes of paths. Files that
// do not decode are left out.
func (p *Pipeline) seedNearDuplicates(near *nearDuplicateFilter, paths []string) {
	for _, path := range paths {
		h, err := perceptualHash(p.cfg.Fs, path)
		if err != nil {
			slog.Debug("backdrop: perceptual hash failed", "path", path, "error", err.Error())
			continue
		}
		near.remember(h)
	}
}

func (p *Pipeline) discover(ctx context.Context, index *Index, near *nearDuplicateFilter, report *Report) ([]Candidate, error) {
	entries, err := p.listFiles(p.cfg.CandidateDir)
	if err != nil {
		return nil, err
	}
	results, err := p.scanAll(ctx, PhaseDiscovery, p.cfg.CandidateDir, entries)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, r := range results {
		report.Scanned++
		if r.outcome != OutcomeAccepted {
			continue
		}
		report.Recognized++
		if index.Contains(r.digest) {
			report.Duplicates++
			p.emit(ClassificationEvent{Path: r.path, Phase: PhaseDiscovery, Outcome: OutcomeDuplicate, Digest: r.digest})
			if near != nil {
				p.seedNearDuplicates(near, []string{r.path})
			}
			continue
		}
		candidates = append(candidates, Candidate{
			Path:    r.path,
			Digest:  r.digest,
			Created: creationTime(p.cfg.Fs, r.path, r.info),
		})
	}
	return candidates, nil
}

// commit assigns destinations and copies candidates in enumeration order.
// It is the only writer of index during a run.
func (p *Pipeline) commit(ctx context.Context, store afero.Fs, index *Index, near *nearDuplicateFilter, candidates []Candidate, report *Report) error {
	if len(candidates) == 0 {
		return nil
	}
	if err := store.MkdirAll(p.cfg.StoreDir, 0o755); err != nil {
		return fmt.Errorf("%w: creating store: %w", ErrCopyFailed, err)
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if index.Contains(c.Digest) {
			// Two candidates in this run with the same content.
			report.Duplicates++
			p.emit(ClassificationEvent{Path: c.Path, Phase: PhaseDiscovery, Outcome: OutcomeDuplicate, Digest: c.Digest})
			continue
		}

		if !wideEnough(p.cfg.Fs, c.Path, p.cfg.MinWidth) {
			report.TooSmall++
			p.emit(ClassificationEvent{Path: c.Path, Phase: PhaseDiscovery, Outcome: OutcomeTooSmall, Digest: c.Digest})
			continue
		}

		var phash *goimagehash.ImageHash
		if near != nil {
			h, err := perceptualHash(p.cfg.Fs, c.Path)
			if err != nil {
				slog.Debug("backdrop: perceptual hash failed", "path", c.Path, "error", err.Error())
			} else if near.match(h) {
				report.NearDuplicates++
				slog.Debug("backdrop: near duplicate rejected", "path", c.Path)
				p.emit(ClassificationEvent{Path: c.Path, Phase: PhaseDiscovery, Outcome: OutcomeNearDuplicate, Digest: c.Digest})
				continue
			}
			phash = h
		}

		base := filepath.Join(p.cfg.StoreDir, DateStamp(c.Created))
		dst, err := FirstFree(store, base, p.cfg.Extension, p.cfg.SuffixProbeLimit)
		if errors.Is(err, ErrAllocatorExhausted) {
			report.Skipped++
			slog.Warn("backdrop: no free name, skipping", "path", c.Path, "base", base, "error", err.Error())
			p.emit(ClassificationEvent{Path: c.Path, Phase: PhaseDiscovery, Outcome: OutcomeSkipped, Digest: c.Digest})
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCopyFailed, err)
		}

		index.Insert(c.Digest)
		if phash != nil {
			near.remember(phash)
		}

		n, err := p.materialize(store, c.Path, dst)
		if err != nil {
			return err
		}
		p.metrics.copiedBytes.Add(float64(n))

		accepted := Accepted{Source: c.Path, Destination: dst, Digest: c.Digest, Bytes: n}
		if p.cfg.ExtractMetadata {
			accepted.Capture = ReadCaptureInfo(p.cfg.Fs, c.Path)
		}
		report.Accepted = append(report.Accepted, accepted)
		report.LastAccepted = dst
		p.emit(ClassificationEvent{Path: c.Path, Phase: PhaseDiscovery, Outcome: OutcomeAccepted, Digest: c.Digest})
		slog.Info("backdrop: accepted", "source", c.Path, "destination", dst, "digest", c.Digest.String())
	}
	return nil
}

// materialize copies src into dst. In a dry run only an empty placeholder is
// created in the in-memory layer, and the source size is reported.
func (p *Pipeline) materialize(store afero.Fs, src, dst string) (int64, error) {
	if p.cfg.DryRun {
		info, err := p.cfg.Fs.Stat(src)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrCopyFailed, err)
		}
		if err := afero.WriteFile(store, dst, nil, 0o644); err != nil {
			return 0, fmt.Errorf("%w: planning %s: %w", ErrCopyFailed, dst, err)
		}
		return info.Size(), nil
	}
	return copyFile(p.cfg.Fs, src, store, dst)
}

func (p *Pipeline) finalize(ctx context.Context, store afero.Fs, index *Index, report *Report) error {
	if err := index.Persist(store, p.cfg.IndexPath); err != nil {
		return err
	}
	report.Persisted = !p.cfg.DryRun
	slog.Info("backdrop: run complete",
		"accepted", len(report.Accepted), "index", index.Len(), "latest", report.LastAccepted, "dry_run", p.cfg.DryRun)

	if p.cfg.Notifier == nil || p.cfg.DryRun {
		return nil
	}
	if err := p.cfg.Notifier.SetBackdrop(ctx, report.LastAccepted); err != nil {
		// The store and index are already consistent; a stale backdrop is cosmetic.
		slog.Warn("backdrop: notify failed", "path", report.LastAccepted, "error", err.Error())
	}
	return nil
}

// copyFile copies src to a new file dst. A partially written dst is removed.
func copyFile(srcFs afero.Fs, src string, dstFs afero.Fs, dst string) (int64, error) {
	in, err := srcFs.Open(src)
	if err != nil {
		return 0, fmt.Errorf("%w: opening %s: %w", ErrCopyFailed, src, err)
	}
	defer in.Close()

	out, err := dstFs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: creating %s: %w", ErrCopyFailed, dst, err)
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = dstFs.Remove(dst)
		return n, fmt.Errorf("%w: %s -> %s: %w", ErrCopyFailed, src, dst, err)
	}
	return n, nil
}

// scanResult is the classification of one directory entry.
type scanResult struct {
	path    string
	info    os.FileInfo
	digest  Digest
	outcome Outcome
}

// scanAll classifies the entries of dir on up to Config.Workers goroutines.
// Results keep the order of entries. A read failure on a relevant file aborts
// the scan.
func (p *Pipeline) scanAll(ctx context.Context, phase, dir string, entries []os.FileInfo) ([]scanResult, error) {
	results := make([]scanResult, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for i, info := range entries {
		if gctx.Err() != nil {
			break
		}
		path := filepath.Join(dir, info.Name())
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					if p.cfg.OnPanic != nil {
						p.cfg.OnPanic("scan", r)
					}
					err = fmt.Errorf("scanning %s: panic: %v", path, r)
				}
			}()

			s := <-p.scanners
			defer func() { p.scanners <- s }()

			d, outcome, err := s.ScanFile(p.cfg.Fs, path)
			results[i] = scanResult{path: path, info: info, digest: d, outcome: outcome}
			// New discoveries are reported once their fate is decided.
			if phase != PhaseDiscovery || outcome != OutcomeAccepted {
				p.emit(ClassificationEvent{Path: path, Phase: phase, Outcome: outcome, Digest: d})
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, ctx.Err()
}

// listFiles returns the regular files of dir sorted by name. Directories and
// other non-regular entries are skipped.
func (p *Pipeline) listFiles(dir string) ([]os.FileInfo, error) {
	infos, err := afero.ReadDir(p.cfg.Fs, dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	files := infos[:0]
	for _, info := range infos {
		if info.Mode().IsRegular() {
			files = append(files, info)
		}
	}
	return files, nil
}

// emit records ev in the metrics and passes it to Config.OnClassification.
// It is called from scan workers, so the callback must be safe for
// concurrent use when Workers > 1.
func (p *Pipeline) emit(ev ClassificationEvent) {
	p.metrics.observe(ev.Phase, ev.Outcome)
	if p.cfg.OnClassification != nil {
		p.cfg.OnClassification(ev)
	}
}
