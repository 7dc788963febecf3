package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/qverify/internal/model"
)

// Analyzer runs a statement in explain mode against a live instance.
// Implementations must be safe for concurrent use.
type Analyzer interface {
	// Explain returns the notifications of EXPLAIN <statement>. A statement
	// the server rejects is reported as a *ClientError.
	Explain(ctx context.Context, statement string) ([]model.Notification, error)
	// ServerVersion returns the version reported by the server agent
	ServerVersion(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// ClientError is a server-side rejection of a statement. It becomes a
// failed row, never an engine failure.
type ClientError struct {
	Classification string `json:"classification"`
	Category       string `json:"category"`
	Code           string `json:"code"`
	Title          string `json:"title"`
	Message        string `json:"message"`
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// explainDirectives are prefixes that already put a statement in analysis mode
var explainDirectives = []string{"EXPLAIN", "PROFILE"}

// HasExplainDirective reports whether the statement is already wrapped
func HasExplainDirective(statement string) bool {
	text := strings.TrimSpace(statement)
	for _, directive := range explainDirectives {
		if len(text) < len(directive) || !strings.EqualFold(text[:len(directive)], directive) {
			continue
		}
		if len(text) == len(directive) {
			return true
		}
		switch text[len(directive)] {
		case ' ', '\t', '\n', '\r':
			return true
		}
	}
	return false
}
