package model

import (
	"fmt"
	"strings"
)

// SchemaVersion identifies the outcome row layout written to reports.
// Bump it whenever a column is added, removed or reordered.
const SchemaVersion = 1

// NotApplicable is written for fields the server did not report
// (older server versions omit category, severity and position).
const NotApplicable = "N/A"

// Position locates a notification inside the statement text
type Position struct {
	Offset int `json:"offset"`
	Line   int `json:"line"`
	Column int `json:"column"`
}

func (p Position) String() string {
	return fmt.Sprintf("line %d, column %d (offset %d)", p.Line, p.Column, p.Offset)
}

// Notification is a diagnostic returned alongside a successful analysis call
type Notification struct {
	Code        string    `json:"code"`
	Category    string    `json:"category,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Position    *Position `json:"position,omitempty"`
}

// DeprecatedRow is one non-suppressed notification for a statement
type DeprecatedRow struct {
	Hash        string `json:"hash"`
	Query       string `json:"query"`
	Code        string `json:"code"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Position    string `json:"position"`
}

// NewDeprecatedRow builds a row from a notification, filling absent fields with NotApplicable
func NewDeprecatedRow(stmt Statement, n Notification) DeprecatedRow {
	position := NotApplicable
	if n.Position != nil {
		position = n.Position.String()
	}
	return DeprecatedRow{
		Hash:        stmt.Hash,
		Query:       stmt.Text,
		Code:        orNA(n.Code),
		Category:    orNA(n.Category),
		Severity:    orNA(n.Severity),
		Title:       orNA(n.Title),
		Description: orNA(n.Description),
		Position:    position,
	}
}

// DeprecatedHeader is the fixed CSV header for deprecated rows
func DeprecatedHeader() []string {
	return []string{"hash", "query", "code", "category", "severity", "title", "description", "position"}
}

// Record returns the row in DeprecatedHeader order
func (r DeprecatedRow) Record() []string {
	return []string{r.Hash, r.Query, r.Code, r.Category, r.Severity, r.Title, r.Description, r.Position}
}

// FailedRow records a statement whose analysis call raised a client error
type FailedRow struct {
	Hash           string `json:"hash"`
	Query          string `json:"query"`
	Classification string `json:"classification"`
	Category       string `json:"category"`
	Code           string `json:"code"`
	Title          string `json:"title"`
	Message        string `json:"message"`
}

// NewFailedRow builds a failed row, filling absent fields with NotApplicable
func NewFailedRow(stmt Statement, classification, category, code, title, message string) FailedRow {
	return FailedRow{
		Hash:           stmt.Hash,
		Query:          stmt.Text,
		Classification: orNA(classification),
		Category:       orNA(category),
		Code:           orNA(code),
		Title:          orNA(title),
		Message:        orNA(message),
	}
}

// FailedHeader is the fixed CSV header for failed rows
func FailedHeader() []string {
	return []string{"hash", "query", "classification", "category", "code", "title", "message"}
}

// Record returns the row in FailedHeader order
func (r FailedRow) Record() []string {
	return []string{r.Hash, r.Query, r.Classification, r.Category, r.Code, r.Title, r.Message}
}

// Summary aggregates the counts of one audit run
type Summary struct {
	Files      int `json:"files"`
	Extracted  int `json:"extracted"`
	Distinct   int `json:"distinct"`
	Skipped    int `json:"skipped"`    // already wrapped in EXPLAIN/PROFILE
	Clean      int `json:"clean"`      // no rows emitted
	Deprecated int `json:"deprecated"` // statements with at least one deprecated row
	Failed     int `json:"failed"`
	Errored    int `json:"errored"` // driver/connectivity errors, no rows
	Cached     int `json:"cached"`
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotApplicable
	}
	return s
}
