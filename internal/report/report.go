package report

import (
	"regexp"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/ppiankov/qverify/internal/model"
	"github.com/ppiankov/qverify/internal/verify"
)

// TimestampFormat is the run timestamp embedded in report file names
const TimestampFormat = "20060102T150405Z"

// Collection names used as file name prefixes
const (
	KindDeprecated = "deprecated_queries"
	KindFailed     = "failed_queries"
)

// Meta identifies the audit run a report belongs to
type Meta struct {
	Version   string
	Timestamp time.Time
}

// Report holds the outcome collections of one run in display order
type Report struct {
	Meta       Meta
	Deprecated []model.DeprecatedRow
	Failed     []model.FailedRow
}

// Assemble groups the verification result into collections ordered by hash,
// then code. The order is for stable output only.
func Assemble(result *verify.Result, meta Meta) *Report {
	r := &Report{Meta: meta}
	if result == nil {
		return r
	}

	r.Deprecated = append([]model.DeprecatedRow(nil), result.Deprecated...)
	sort.SliceStable(r.Deprecated, func(i, j int) bool {
		a, b := r.Deprecated[i], r.Deprecated[j]
		if a.Hash != b.Hash {
			return a.Hash < b.Hash
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.Position < b.Position
	})

	r.Failed = append([]model.FailedRow(nil), result.Failed...)
	sort.SliceStable(r.Failed, func(i, j int) bool {
		a, b := r.Failed[i], r.Failed[j]
		if a.Hash != b.Hash {
			return a.Hash < b.Hash
		}
		return a.Code < b.Code
	})
	return r
}

// Empty reports whether there is nothing to write
func (r *Report) Empty() bool {
	return len(r.Deprecated) == 0 && len(r.Failed) == 0
}

var unsafeVersionChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName builds <kind>_<version>_<timestamp>.csv
func FileName(kind, version string, ts time.Time) string {
	v := unsafeVersionChars.ReplaceAllString(version, "-")
	if v == "" {
		v = "unknown"
	}
	return kind + "_" + v + "_" + ts.UTC().Format(TimestampFormat) + ".csv"
}

// Write hands every non-empty collection to w and returns the locations
// written. An empty collection produces no artifact at all.
func (r *Report) Write(w Writer) ([]string, error) {
	var written []string

	if len(r.Deprecated) > 0 {
		records := make([][]string, len(r.Deprecated))
		for i, row := range r.Deprecated {
			records[i] = row.Record()
		}
		name := FileName(KindDeprecated, r.Meta.Version, r.Meta.Timestamp)
		location, err := w.Write(name, model.DeprecatedHeader(), records)
		if err != nil {
			return written, errors.Wrapf(err, "write %s", name)
		}
		written = append(written, location)
	}

	if len(r.Failed) > 0 {
		records := make([][]string, len(r.Failed))
		for i, row := range r.Failed {
			records[i] = row.Record()
		}
		name := FileName(KindFailed, r.Meta.Version, r.Meta.Timestamp)
		location, err := w.Write(name, model.FailedHeader(), records)
		if err != nil {
			return written, errors.Wrapf(err, "write %s", name)
		}
		written = append(written, location)
	}

	return written, nil
}
