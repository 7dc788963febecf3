package verify

import (
	"context"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pkg/errors"

	"github.com/ppiankov/qverify/internal/model"
)

const clientErrorClassification = "ClientError"

// Neo4jAnalyzer explains statements through the Bolt driver
type Neo4jAnalyzer struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jAnalyzer opens a driver for the endpoint. An empty database uses
// the server default.
func NewNeo4jAnalyzer(endpoint model.Endpoint, database string) (*Neo4jAnalyzer, error) {
	driver, err := neo4j.NewDriverWithContext(endpoint.URI,
		neo4j.BasicAuth(endpoint.Username, endpoint.Password, ""))
	if err != nil {
		return nil, errors.Wrapf(err, "create driver for %s", endpoint.URI)
	}
	return &Neo4jAnalyzer{driver: driver, database: database}, nil
}

// VerifyConnectivity checks that the server accepts the credentials
func (a *Neo4jAnalyzer) VerifyConnectivity(ctx context.Context) error {
	return errors.Wrap(a.driver.VerifyConnectivity(ctx), "verify connectivity")
}

// Explain runs EXPLAIN <statement> and returns its notifications. Explain
// mode plans the statement without executing it. The session is a write
// session so routing drivers plan write statements on a writer.
func (a *Neo4jAnalyzer) Explain(ctx context.Context, statement string) ([]model.Notification, error) {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: a.database,
	})
	defer func() { _ = session.Close(ctx) }()

	result, err := session.Run(ctx, "EXPLAIN "+statement, nil)
	if err != nil {
		return nil, classifyError(err)
	}
	summary, err := result.Consume(ctx)
	if err != nil {
		return nil, classifyError(err)
	}
	return convertNotifications(summary.Notifications()), nil
}

// ServerVersion returns the version part of the server agent, e.g. 5.26.0
// for Neo4j/5.26.0
func (a *Neo4jAnalyzer) ServerVersion(ctx context.Context) (string, error) {
	info, err := a.driver.GetServerInfo(ctx)
	if err != nil {
		return "", errors.Wrap(err, "get server info")
	}
	return agentVersion(info.Agent()), nil
}

// Close releases the driver's connections
func (a *Neo4jAnalyzer) Close(ctx context.Context) error {
	return a.driver.Close(ctx)
}

func agentVersion(agent string) string {
	if _, version, ok := strings.Cut(agent, "/"); ok {
		return strings.TrimSpace(version)
	}
	return strings.TrimSpace(agent)
}

// classifyError turns client-classified server errors into ClientError.
// Transient and database errors, like transport failures, are returned
// unchanged: they say nothing about the statement.
func classifyError(err error) error {
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && neoErr.Classification() == clientErrorClassification {
		return &ClientError{
			Classification: neoErr.Classification(),
			Category:       neoErr.Category(),
			Code:           neoErr.Code,
			Title:          neoErr.Title(),
			Message:        neoErr.Msg,
		}
	}
	return err
}

func convertNotifications(in []neo4j.Notification) []model.Notification {
	out := make([]model.Notification, 0, len(in))
	for _, n := range in {
		converted := model.Notification{
			Code:        n.Code(),
			Category:    n.RawCategory(),
			Severity:    n.RawSeverityLevel(),
			Title:       n.Title(),
			Description: n.Description(),
		}
		if pos := n.Position(); pos != nil {
			converted.Position = &model.Position{
				Offset: pos.Offset(),
				Line:   pos.Line(),
				Column: pos.Column(),
			}
		}
		out = append(out, converted)
	}
	return out
}
