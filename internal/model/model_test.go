package model

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHash_Deterministic(t *testing.T) {
	a := ContentHash("MATCH (n) RETURN n")
	b := ContentHash("MATCH (n) RETURN n")
	c := ContentHash("MATCH (m) RETURN m")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestNewStatement_Trims(t *testing.T) {
	s := NewStatement("  RETURN 1 \n")
	assert.Equal(t, "RETURN 1", s.Text)
	assert.Equal(t, ContentHash("RETURN 1"), s.Hash)
}

func TestWorkSet_Add(t *testing.T) {
	ws := NewWorkSet()

	assert.True(t, ws.Add("RETURN 1"))
	assert.False(t, ws.Add("  RETURN 1  "), "trimmed duplicate must not be added")
	assert.True(t, ws.Add("return 1"), "no case folding")
	assert.False(t, ws.Add("   "), "blank statements are dropped")

	assert.Equal(t, 2, ws.Len())
	assert.True(t, ws.Contains(" RETURN 1"))
}

func TestWorkSet_StatementsSorted(t *testing.T) {
	ws := NewWorkSet()
	ws.Add("RETURN 3")
	ws.Add("RETURN 1")
	ws.Add("RETURN 2")

	stmts := ws.Statements()
	require.Len(t, stmts, 3)
	assert.Equal(t, "RETURN 1", stmts[0].Text)
	assert.Equal(t, "RETURN 3", stmts[2].Text)
}

func TestSuppressionSet(t *testing.T) {
	s := NewSuppressionSet("A", "", "B", "A")
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Suppressed("A"))
	assert.False(t, s.Suppressed("C"))
	assert.Equal(t, []string{"A", "B"}, s.Codes())

	def := DefaultSuppressionSet()
	assert.True(t, def.Suppressed("Neo.ClientNotification.Statement.UnknownLabelWarning"))
	assert.False(t, def.Suppressed("Neo.ClientNotification.Statement.FeatureDeprecationWarning"))
}

func TestConfig_SuppressionSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Suppress.Codes = []string{"Custom.Code"}
	set := cfg.SuppressionSet()
	assert.True(t, set.Suppressed("Custom.Code"))
	assert.True(t, set.Suppressed("Neo.ClientNotification.Schema.HintedIndexNotFound"))

	cfg.Suppress.Defaults = false
	set = cfg.SuppressionSet()
	assert.Equal(t, 1, set.Len())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "external endpoint",
			mutate: func(c *Config) { c.Endpoint.URI = "bolt://localhost:7687" },
		},
		{
			name: "provisioned",
			mutate: func(c *Config) {
				c.Provision.Enabled = true
				c.TargetVersion = "5.26"
			},
		},
		{
			name: "both endpoint and provision",
			mutate: func(c *Config) {
				c.Endpoint.URI = "bolt://localhost:7687"
				c.Provision.Enabled = true
				c.TargetVersion = "5.26"
			},
			wantErr: true,
		},
		{
			name:    "neither endpoint nor provision",
			mutate:  func(c *Config) {},
			wantErr: true,
		},
		{
			name: "missing input",
			mutate: func(c *Config) {
				c.Input = ""
				c.Endpoint.URI = "bolt://localhost:7687"
			},
			wantErr: true,
		},
		{
			name:    "provision without version",
			mutate:  func(c *Config) { c.Provision.Enabled = true },
			wantErr: true,
		},
		{
			name: "zero workers",
			mutate: func(c *Config) {
				c.Endpoint.URI = "bolt://localhost:7687"
				c.Verify.Workers = 0
			},
			wantErr: true,
		},
		{
			name: "same ports",
			mutate: func(c *Config) {
				c.Provision.Enabled = true
				c.TargetVersion = "5.26"
				c.Provision.HTTPPort = c.Provision.BoltPort
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Input = "logs"
			tt.mutate(cfg)

			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfig), "expected ErrConfig, got %v", err)
		})
	}
}

func TestMajorVersion(t *testing.T) {
	for version, want := range map[string]int{"5.26": 5, " 4.4.12": 4, "2025.01": 2025, "": 0, "latest": 0} {
		assert.Equal(t, want, MajorVersion(version), version)
	}
}

func TestNewDeprecatedRow_NotApplicable(t *testing.T) {
	stmt := NewStatement("MATCH (n) RETURN n")
	row := NewDeprecatedRow(stmt, Notification{Code: "Neo.ClientNotification.Statement.FeatureDeprecationWarning"})

	assert.Equal(t, stmt.Hash, row.Hash)
	assert.Equal(t, NotApplicable, row.Category)
	assert.Equal(t, NotApplicable, row.Severity)
	assert.Equal(t, NotApplicable, row.Position)
	assert.Len(t, row.Record(), len(DeprecatedHeader()))

	row = NewDeprecatedRow(stmt, Notification{Code: "X", Position: &Position{Offset: 3, Line: 1, Column: 4}})
	assert.Equal(t, "line 1, column 4 (offset 3)", row.Position)
}

func TestNewFailedRow(t *testing.T) {
	stmt := NewStatement("MATCH (n RETURN n")
	row := NewFailedRow(stmt, "ClientError", "Statement", "Neo.ClientError.Statement.SyntaxError", "", "Invalid input")

	assert.Equal(t, NotApplicable, row.Title)
	assert.Equal(t, "Invalid input", row.Message)
	assert.Len(t, row.Record(), len(FailedHeader()))
	assert.Equal(t, "hash", FailedHeader()[0])
	assert.Equal(t, "query", FailedHeader()[1])
}
