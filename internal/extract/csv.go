package extract

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// defaultCSVFieldSize matches the conventional 128 KiB field limit of CSV exports
const defaultCSVFieldSize = 128 << 10

// lineBreakToken encodes embedded newlines in exported statement lists
const lineBreakToken = "<br>"

var errFieldTooLarge = errors.New("csv field exceeds size limit")

// ErrFieldLimitExceeded is returned when a CSV field is larger than the configured ceiling
var ErrFieldLimitExceeded = errors.New("csv field exceeds maximum field size")

// readCSV emits the first field of every row. When a field exceeds the
// current size limit the limit is doubled and the file is read again from
// the start; rows already emitted by an earlier attempt are not emitted twice.
func (s *Source) readCSV(ctx context.Context, URL string, emit func(string) error) error {
	limit := s.opts.CSVInitialField
	emitted := 0

	for {
		n, err := s.readCSVOnce(ctx, URL, limit, emitted, emit)
		emitted = n
		if err == nil {
			return nil
		}
		if !errors.Is(err, errFieldTooLarge) {
			return err
		}

		next := limit * 2
		if next > s.opts.CSVMaxFieldSize {
			return errors.Wrapf(ErrFieldLimitExceeded, "%s: field larger than %d bytes", URL, s.opts.CSVMaxFieldSize)
		}
		s.opts.Logger.Debug("CSV field exceeds limit, retrying with a larger limit", "file", URL, "limit", next)
		limit = next
	}
}

// readCSVOnce reads the whole file with a fixed field size limit. It returns
// the number of statements emitted so far, counting those skipped because an
// earlier attempt already emitted them.
func (s *Source) readCSVOnce(ctx context.Context, URL string, limit, alreadyEmitted int, emit func(string) error) (int, error) {
	reader, err := s.open(ctx, URL)
	if err != nil {
		return alreadyEmitted, err
	}
	defer func() { _ = reader.Close() }()

	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	row := 0
	index := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			return max(index, alreadyEmitted), nil
		}
		if err != nil {
			return max(index, alreadyEmitted), errors.Wrapf(err, "read %s", URL)
		}
		row++
		if row == 1 && s.opts.CSVSkipHeader {
			continue
		}
		if row%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return max(index, alreadyEmitted), err
			}
		}
		if len(record) == 0 {
			continue
		}

		for _, field := range record {
			if len(field) > limit {
				return max(index, alreadyEmitted), errFieldTooLarge
			}
		}

		statement := strings.ReplaceAll(record[0], lineBreakToken, "\n")
		if strings.TrimSpace(statement) == "" {
			continue
		}

		index++
		if index <= alreadyEmitted {
			continue
		}
		if err := emit(statement); err != nil {
			return index, err
		}
	}
}
