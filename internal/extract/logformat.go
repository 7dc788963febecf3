package extract

import (
	"bufio"
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const defaultMaxLineSize = 64 << 20

// Format is the detected format of a log file
type Format string

const (
	FormatUnknown Format = "unknown"
	FormatText    Format = "text"  // timestamped query.log lines
	FormatJSON    Format = "jsonl" // one JSON object per line
	FormatCSV     Format = "csv"
)

var timestampPrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`)

// DetectFormat classifies a log file by its first non-empty line
func DetectFormat(firstLine string) Format {
	line := strings.TrimSpace(firstLine)
	switch {
	case timestampPrefix.MatchString(line):
		return FormatText
	case strings.HasPrefix(line, "{"):
		return FormatJSON
	default:
		return FormatUnknown
	}
}

// textExtractor pulls the statement out of a structured-text log line:
//
//	<port>> - <field> - <field> - <statement> - {<rest>
//
// The leading " - " after the port is optional so lines written as
// "<port>> <db> - <user> - <statement> - {...}" match as well.
type textExtractor struct {
	pattern *regexp.Regexp
}

func newTextExtractor(port int) *textExtractor {
	expr := `(?:^|[^0-9])` + regexp.QuoteMeta(strconv.Itoa(port)) +
		`>\s*(?:-\s+)?(.*?)\s+-\s+(.*?)\s+-\s+(.*?)\s+-\s+\{`
	return &textExtractor{pattern: regexp.MustCompile(expr)}
}

// Extract returns the statement of a matching line
func (e *textExtractor) Extract(line string) (string, bool) {
	m := e.pattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	statement := strings.TrimSpace(m[3])
	if statement == "" {
		return "", false
	}
	return statement, true
}

// extractJSONLine returns the string query field of a JSON-lines record
func extractJSONLine(line string) (string, bool) {
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return "", false
	}
	query, ok := record["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return "", false
	}
	return query, true
}

// readLog detects the format of one log file and emits its statements.
// Unmatched lines, malformed JSON and unknown formats are not errors.
func (s *Source) readLog(ctx context.Context, URL string, emit func(string) error) (Format, error) {
	reader, err := s.open(ctx, URL)
	if err != nil {
		return FormatUnknown, err
	}
	defer func() { _ = reader.Close() }()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), s.opts.MaxLineSize)

	format := FormatUnknown
	detected := false
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		if lineNo%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return format, err
			}
		}

		line := scanner.Text()
		if !detected {
			if strings.TrimSpace(line) == "" {
				continue
			}
			format = DetectFormat(line)
			detected = true
			if format == FormatUnknown {
				return format, nil
			}
		}

		var (
			statement string
			ok        bool
		)
		switch format {
		case FormatText:
			statement, ok = s.text.Extract(line)
		case FormatJSON:
			statement, ok = extractJSONLine(line)
		}
		if !ok {
			continue
		}
		if err := emit(statement); err != nil {
			return format, err
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			s.opts.Logger.Warn("Log line exceeds the maximum line size, skipping rest of file",
				"file", URL, "line", lineNo+1, "max_line_size", s.opts.MaxLineSize)
			return format, nil
		}
		return format, errors.Wrapf(err, "read %s", URL)
	}
	return format, nil
}
