package report

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Writer stores one named table and returns where it went
type Writer interface {
	Write(name string, header []string, records [][]string) (string, error)
}

// CSVWriter writes tables as CSV files in Dir
type CSVWriter struct {
	Dir string

	encode func(w io.Writer, header []string, records [][]string) error // nil uses encodeCSV
}

// Write creates Dir/name. An existing file is never overwritten, and a file
// that could not be written in full is removed.
func (c CSVWriter) Write(name string, header []string, records [][]string) (string, error) {
	dir := c.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "create output dir")
	}

	encode := c.encode
	if encode == nil {
		encode = encodeCSV
	}

	outPath := filepath.Join(dir, name)
	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", errors.Wrapf(err, "create %q", outPath)
	}

	if err := encode(f, header, records); err != nil {
		_ = f.Close()
		_ = os.Remove(outPath)
		return "", errors.Wrapf(err, "write %q", outPath)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(outPath)
		return "", errors.Wrapf(err, "close %q", outPath)
	}
	return outPath, nil
}

func encodeCSV(w io.Writer, header []string, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	return cw.WriteAll(records)
}
