// Command backdrop copies new landscape Spotlight images into a date-named
// store and points the desktop backdrop at the newest one.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/anatolykoptev/go-backdrop"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line flags shared by every subcommand.
type options struct {
	configPath  string
	store       string
	candidates  string
	index       string
	workers     int
	minWidth    int
	hash        string
	notifyCmd   string
	metricsFile string
	dryRun      bool
	nearDups    bool
	metadata    bool
	verbose     bool
	count       int
	date        string
}

func newFlagSet(stderr io.Writer, opts *options) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("backdrop", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "YAML config file (default: $BACKDROP_CONFIG)")
	flagSet.StringVar(&opts.store, "store", "", "store directory")
	flagSet.StringVar(&opts.candidates, "candidates", "", "candidate asset directory")
	flagSet.StringVar(&opts.index, "index", "", "index file (default: <store>/"+backdrop.DefaultIndexName+")")
	flagSet.IntVarP(&opts.workers, "workers", "j", 1, "files classified concurrently")
	flagSet.IntVar(&opts.minWidth, "min-width", 0, "skip images narrower than this many pixels")
	flagSet.StringVar(&opts.hash, "hash", backdrop.AlgorithmSHA256, "content digest: sha256 or blake3")
	flagSet.StringVar(&opts.notifyCmd, "notify-cmd", "", `command run with {path} of the newest file; "none" disables`)
	flagSet.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus textfile metrics here")
	flagSet.BoolVarP(&opts.dryRun, "dry-run", "n", false, "plan destinations without writing anything")
	flagSet.BoolVar(&opts.nearDups, "near-dups", false, "also skip perceptually identical images")
	flagSet.BoolVar(&opts.metadata, "metadata", false, "log EXIF capture info of accepted files")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flagSet.IntVar(&opts.count, "count", 5, "suffixes: how many names to print")
	flagSet.StringVar(&opts.date, "date", "", "suffixes: date as YYYYMMDD (default: today)")
	flagSet.BoolP("help", "h", false, "show help")
	return flagSet
}

func run(args []string, stdout, stderr io.Writer) error {
	var opts options
	flagSet := newFlagSet(stderr, &opts)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}

	command := "run"
	rest := flagSet.Args()
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	cfg, level, err := buildConfig(flagSet, &opts)
	if err != nil {
		return err
	}
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch command {
	case "run":
		return runOnce(ctx, stdout, cfg, opts.metadata)
	case "rebuild":
		return rebuild(ctx, stdout, cfg)
	case "index":
		return showIndex(stdout, cfg, rest)
	case "suffixes":
		return showSuffixes(stdout, cfg, opts)
	default:
		return fmt.Errorf("unknown command %q (want run, rebuild, index or suffixes)", command)
	}
}

// buildConfig layers defaults, the config file and explicitly set flags, in
// that order.
func buildConfig(flagSet *pflag.FlagSet, opts *options) (backdrop.Config, slog.Level, error) {
	cfg := backdrop.Config{Workers: opts.workers, HashAlgorithm: opts.hash}
	level := slog.LevelInfo
	notifyCmd := ""

	configPath := opts.configPath
	if configPath == "" {
		configPath = os.Getenv("BACKDROP_CONFIG")
	}
	if configPath != "" {
		fc, err := backdrop.LoadConfigFile(afero.NewOsFs(), configPath)
		if err != nil {
			return cfg, level, err
		}
		fc.Apply(&cfg)
		notifyCmd = fc.NotifyCommand
		if fc.LogLevel != "" {
			if err := level.UnmarshalText([]byte(fc.LogLevel)); err != nil {
				return cfg, level, fmt.Errorf("%w: log_level: %w", backdrop.ErrInvalidConfig, err)
			}
		}
	}

	changed := flagSet.Changed
	if changed("store") {
		cfg.StoreDir = opts.store
	}
	if changed("candidates") {
		cfg.CandidateDir = opts.candidates
	}
	if changed("index") {
		cfg.IndexPath = opts.index
	}
	if changed("workers") {
		cfg.Workers = opts.workers
	}
	if changed("min-width") {
		cfg.MinWidth = opts.minWidth
	}
	if changed("hash") {
		cfg.HashAlgorithm = opts.hash
	}
	if changed("metrics-file") {
		cfg.MetricsTextfile = opts.metricsFile
	}
	if changed("dry-run") {
		cfg.DryRun = opts.dryRun
	}
	if changed("near-dups") {
		cfg.SkipNearDuplicates = opts.nearDups
	}
	if changed("metadata") {
		cfg.ExtractMetadata = opts.metadata
	}
	if changed("notify-cmd") {
		notifyCmd = opts.notifyCmd
	}
	opts.metadata = cfg.ExtractMetadata

	switch notifyCmd {
	case "":
		cfg.Notifier = backdrop.DesktopNotifier()
	case "none":
	default:
		n, err := backdrop.ParseCommandNotifier(notifyCmd)
		if err != nil {
			return cfg, level, fmt.Errorf("%w: %w", backdrop.ErrInvalidConfig, err)
		}
		cfg.Notifier = n
	}
	return cfg, level, nil
}

func runOnce(ctx context.Context, stdout io.Writer, cfg backdrop.Config, metadata bool) error {
	p, err := backdrop.New(cfg)
	if err != nil {
		return err
	}
	report, err := p.Run(ctx)
	if err != nil {
		return err
	}

	verb := "copied"
	if report.DryRun {
		verb = "would copy"
	}
	for _, a := range report.Accepted {
		fmt.Fprintf(stdout, "%s %s -> %s\n", verb, a.Source, a.Destination)
		if metadata && a.Capture != nil {
			slog.Info("backdrop: capture info", "destination", a.Destination,
				"artist", a.Capture.Artist, "copyright", a.Capture.Copyright,
				"description", a.Capture.Description, "taken", a.Capture.Taken)
		}
	}
	fmt.Fprintf(stdout, "%d scanned, %d recognized, %d duplicates, %d near duplicates, %d too small, %d skipped, %d new\n",
		report.Scanned, report.Recognized, report.Duplicates, report.NearDuplicates, report.TooSmall, report.Skipped, len(report.Accepted))
	return nil
}

func rebuild(ctx context.Context, stdout io.Writer, cfg backdrop.Config) error {
	p, err := backdrop.New(cfg)
	if err != nil {
		return err
	}
	index, err := p.RebuildIndex(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d digests -> %s\n", index.Len(), p.Config().IndexPath)
	return nil
}

// showIndex lists the persisted digests, or with arguments reports whether
// each given hex digest is known.
func showIndex(stdout io.Writer, cfg backdrop.Config, digests []string) error {
	path := cfg.IndexPath
	if path == "" {
		if cfg.StoreDir == "" {
			return fmt.Errorf("%w: --store or --index is required", backdrop.ErrInvalidConfig)
		}
		path = filepath.Join(cfg.StoreDir, backdrop.DefaultIndexName)
	}
	index, err := backdrop.LoadIndex(afero.NewOsFs(), path)
	if err != nil {
		return err
	}

	if len(digests) == 0 {
		for _, d := range index.Digests() {
			fmt.Fprintln(stdout, d)
		}
		fmt.Fprintf(stdout, "%d digests\n", index.Len())
		return nil
	}
	for _, s := range digests {
		d, err := backdrop.ParseDigest(s)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s %s\n", d, strconv.FormatBool(index.Contains(d)))
	}
	return nil
}

// showSuffixes prints the names the allocator would try for a date, marking
// the ones already taken in the store.
func showSuffixes(stdout io.Writer, cfg backdrop.Config, opts options) error {
	if cfg.StoreDir == "" {
		return fmt.Errorf("%w: --store is required", backdrop.ErrInvalidConfig)
	}
	day := time.Now()
	if opts.date != "" {
		var err error
		if day, err = time.ParseInLocation(backdrop.DateLayout, opts.date, time.Local); err != nil {
			return fmt.Errorf("--date: %w", err)
		}
	}
	ext := cfg.Extension
	if ext == "" {
		ext = backdrop.DefaultExtension
	}

	fsys := afero.NewOsFs()
	alloc := backdrop.NewSuffixAllocator(filepath.Join(cfg.StoreDir, backdrop.DateStamp(day)), ext)
	for _, name := range alloc.Take(opts.count) {
		state := "free"
		if _, err := fsys.Stat(name); err == nil {
			state = "taken"
		}
		fmt.Fprintf(stdout, "%s %s\n", name, state)
	}
	return nil
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprint(w, `backdrop collects new landscape Spotlight images into a store.

Usage:
  backdrop [flags] [run]          copy new images, persist the index, set the backdrop
  backdrop [flags] rebuild        rebuild the index from the store contents
  backdrop [flags] index [hex...] list indexed digests or look some up
  backdrop [flags] suffixes       show destination names for --date

Examples:
  backdrop --store ~/Pictures/Spotlight --candidates "$ASSETS"
  backdrop -c ~/.config/backdrop.yaml --dry-run
  backdrop --store ~/Pictures/Spotlight suffixes --date 20190713 --count 3

Flags:
`)
	flagSet.PrintDefaults()
}
