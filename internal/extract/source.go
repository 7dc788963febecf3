package extract

import (
	"context"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/viant/afs"

	"github.com/ppiankov/qverify/internal/logger"
	"github.com/ppiankov/qverify/internal/model"
)

// Mode is the input mode selected from the locator
type Mode string

const (
	ModeLogDir Mode = "log_dir"
	ModeLog    Mode = "log"
	ModeCSV    Mode = "csv"
)

// Options controls extraction
type Options struct {
	BoltPort        int
	Prefix          string // log_dir mode only reads files whose name starts with Prefix
	CSVSkipHeader   bool
	CSVInitialField int // initial CSV field size limit in bytes
	CSVMaxFieldSize int // ceiling for the adaptive CSV field size limit
	MaxLineSize     int
	Logger          logger.Interface
	Observer        model.Observer
}

// DefaultOptions mirrors the source defaults of model.DefaultConfig
func DefaultOptions() Options {
	return OptionsFromConfig(model.DefaultConfig().Source)
}

// OptionsFromConfig converts the source section of the configuration
func OptionsFromConfig(cfg model.SourceConfig) Options {
	return Options{
		BoltPort:        cfg.BoltPort,
		Prefix:          cfg.Prefix,
		CSVSkipHeader:   cfg.CSVSkipHeader,
		CSVInitialField: defaultCSVFieldSize,
		CSVMaxFieldSize: cfg.CSVMaxFieldSize,
		MaxLineSize:     cfg.MaxLineSize,
	}
}

// Stats describes what a Walk read
type Stats struct {
	Mode      Mode
	Files     int            // files read
	Skipped   int            // files ignored (prefix mismatch or unknown format)
	Extracted int            // statements handed to the callback, duplicates included
	PerFile   map[string]int // statements per file
	Formats   map[string]Format
}

// Source extracts raw statements from one input locator
type Source struct {
	fs      afs.Service
	locator string
	mode    Mode
	opts    Options
	text    *textExtractor
}

// Open resolves the locator and selects the input mode.
// A locator that is neither a file nor a directory is a configuration error.
func Open(ctx context.Context, locator string, opts Options) (*Source, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Observer == nil {
		opts.Observer = model.NopObserver{}
	}
	if opts.CSVInitialField <= 0 {
		opts.CSVInitialField = defaultCSVFieldSize
	}
	if opts.CSVMaxFieldSize < opts.CSVInitialField {
		opts.CSVMaxFieldSize = opts.CSVInitialField
	}
	if opts.MaxLineSize <= 0 {
		opts.MaxLineSize = defaultMaxLineSize
	}

	URL := normalizeLocator(locator)
	fs := afs.New()

	exists, err := fs.Exists(ctx, URL)
	if err != nil {
		return nil, errors.Wrapf(err, "stat input %s", locator)
	}
	if !exists {
		return nil, errors.Wrapf(model.ErrConfig, "input %s is neither a file nor a directory", locator)
	}

	object, err := fs.Object(ctx, URL)
	if err != nil {
		return nil, errors.Wrapf(err, "stat input %s", locator)
	}

	s := &Source{
		fs:      fs,
		locator: URL,
		opts:    opts,
		text:    newTextExtractor(opts.BoltPort),
	}
	switch {
	case object.IsDir():
		s.mode = ModeLogDir
	case strings.EqualFold(path.Ext(object.Name()), ".csv"):
		s.mode = ModeCSV
	default:
		// .log and any other regular file are read as logs
		s.mode = ModeLog
	}
	return s, nil
}

// Mode returns the selected input mode
func (s *Source) Mode() Mode {
	return s.mode
}

// Walk streams every extracted statement to fn, one at a time.
// The sequence is not restartable; call Walk again to re-read the input.
// Returning an error from fn stops the walk and returns that error.
func (s *Source) Walk(ctx context.Context, fn func(file, statement string) error) (*Stats, error) {
	stats := &Stats{
		Mode:    s.mode,
		PerFile: make(map[string]int),
		Formats: make(map[string]Format),
	}

	emit := func(file string) func(string) error {
		return func(statement string) error {
			stats.Extracted++
			stats.PerFile[file]++
			return fn(file, statement)
		}
	}

	switch s.mode {
	case ModeCSV:
		stats.Files = 1
		stats.Formats[s.locator] = FormatCSV
		if err := s.readCSV(ctx, s.locator, emit(s.locator)); err != nil {
			return stats, err
		}
	case ModeLog:
		stats.Files = 1
		format, err := s.readLog(ctx, s.locator, emit(s.locator))
		stats.Formats[s.locator] = format
		if err != nil {
			return stats, err
		}
		if format == FormatUnknown {
			stats.Skipped++
		}
	case ModeLogDir:
		files, skipped, err := s.listLogFiles(ctx)
		if err != nil {
			return stats, err
		}
		stats.Skipped += skipped
		for i, file := range files {
			s.opts.Observer.OnProgress(model.PhaseIngest, i, len(files))
			format, err := s.readLog(ctx, file, emit(file))
			stats.Files++
			stats.Formats[file] = format
			if err != nil {
				return stats, err
			}
			if format == FormatUnknown {
				s.opts.Logger.Debug("Skipping log file with unknown format", "file", file)
				stats.Skipped++
			}
		}
		s.opts.Observer.OnProgress(model.PhaseIngest, len(files), len(files))
	}

	return stats, nil
}

// listLogFiles returns the URLs of regular files carrying the log prefix
func (s *Source) listLogFiles(ctx context.Context) ([]string, int, error) {
	objects, err := s.fs.List(ctx, s.locator)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "list %s", s.locator)
	}

	var files []string
	skipped := 0
	for _, object := range objects {
		// List includes the directory itself
		if object.IsDir() {
			continue
		}
		if !strings.HasPrefix(object.Name(), s.opts.Prefix) {
			skipped++
			continue
		}
		files = append(files, object.URL())
	}
	sort.Strings(files)
	return files, skipped, nil
}

func (s *Source) open(ctx context.Context, URL string) (io.ReadCloser, error) {
	reader, err := s.fs.OpenURL(ctx, URL)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", URL)
	}
	return reader, nil
}

// normalizeLocator turns relative local paths into absolute ones; URLs with a
// scheme are passed through so remote storage supported by afs also works.
func normalizeLocator(locator string) string {
	if strings.Contains(locator, "://") {
		return locator
	}
	if abs, err := filepath.Abs(locator); err == nil {
		return abs
	}
	return locator
}
