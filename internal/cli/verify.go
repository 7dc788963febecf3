package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ppiankov/qverify/internal/logger"
	"github.com/ppiankov/qverify/internal/model"
	"github.com/ppiankov/qverify/internal/pipeline"
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify [input]",
	Short: "Check logged statements against a target Neo4j version",
	Long: `Verify reads statements from input, deduplicates them and plans each one
with EXPLAIN against the target server. Input is one of:
- a directory of query logs (files starting with --prefix)
- a single log file (structured text or JSON lines)
- a CSV file with one statement in the first column

Statements the server flags as deprecated are written to
deprecated_queries_<version>_<timestamp>.csv, statements it rejects to
failed_queries_<version>_<timestamp>.csv. Files are only written when
they have rows.

Example:
  qverify verify /var/log/neo4j --uri bolt://db:7687 --password secret
  qverify verify queries.csv --provision --neo4j-version 5.26.0
  qverify verify query.log --provision --neo4j-version 5.26.0 --workers 4 --strict-health`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

// flagKeys maps each verify flag to its configuration key
var flagKeys = map[string]string{
	"output-dir":          "output_dir",
	"neo4j-version":       "target_version",
	"uri":                 "endpoint.uri",
	"user":                "endpoint.username",
	"password":            "endpoint.password",
	"source-port":         "source.bolt_port",
	"prefix":              "source.prefix",
	"csv-skip-header":     "source.csv_skip_header",
	"csv-max-field-size":  "source.csv_max_field_size",
	"provision":           "provision.enabled",
	"edition":             "provision.edition",
	"image":               "provision.image",
	"bolt-port":           "provision.bolt_port",
	"http-port":           "provision.http_port",
	"plugins":             "provision.plugins",
	"health-interval":     "provision.health_interval",
	"health-timeout":      "provision.health_timeout",
	"strict-health":       "provision.strict_health",
	"keep":                "provision.keep",
	"workers":             "verify.workers",
	"rate-limit":          "verify.rate_limit",
	"statement-timeout":   "verify.statement_timeout",
	"default-suppression": "suppress.defaults",
	"suppress":            "suppress.codes",
	"cache":               "cache.enabled",
	"cache-dir":           "cache.dir",
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	d := model.DefaultConfig()
	f := verifyCmd.Flags()

	f.StringP("output-dir", "o", d.OutputDir, "directory for the CSV reports")
	f.String("neo4j-version", d.TargetVersion, "target version: report label and image tag (detected from the server when empty)")

	// Endpoint flags
	f.String("uri", d.Endpoint.URI, "external endpoint, e.g. bolt://localhost:7687")
	f.String("user", d.Endpoint.Username, "endpoint username")
	f.String("password", d.Endpoint.Password, "endpoint password (prefer QVERIFY_ENDPOINT_PASSWORD)")

	// Source flags
	f.Int("source-port", d.Source.BoltPort, "bolt port recorded in the query log lines")
	f.String("prefix", d.Source.Prefix, "log file name prefix in directory mode")
	f.Bool("csv-skip-header", d.Source.CSVSkipHeader, "skip the first CSV record")
	f.Int("csv-max-field-size", d.Source.CSVMaxFieldSize, "largest CSV field accepted, in bytes")

	// Provision flags
	f.Bool("provision", d.Provision.Enabled, "provision an ephemeral container for the target version")
	f.String("edition", d.Provision.Edition, "container edition (community, enterprise)")
	f.String("image", d.Provision.Image, "container image, overrides neo4j:<version>")
	f.Int("bolt-port", d.Provision.BoltPort, "host port for the container's bolt listener")
	f.Int("http-port", d.Provision.HTTPPort, "host port for the container's http listener")
	f.Bool("plugins", d.Provision.Plugins, "install the plugins matching the target version")
	f.Duration("health-interval", d.Provision.HealthInterval, "interval between health polls")
	f.Duration("health-timeout", d.Provision.HealthTimeout, "how long to wait for a healthy container")
	f.Bool("strict-health", d.Provision.StrictHealth, "abort when the container does not become healthy")
	f.Bool("keep", d.Provision.Keep, "leave the container running after a successful run")

	// Verification flags
	f.Int("workers", d.Verify.Workers, "statements verified concurrently")
	f.Float64("rate-limit", d.Verify.RateLimit, "max statements per second, 0 for unlimited")
	f.Duration("statement-timeout", d.Verify.StatementTimeout, "timeout for one EXPLAIN call")
	f.Bool("default-suppression", d.Suppress.Defaults, "suppress data-dependent notifications")
	f.StringSlice("suppress", d.Suppress.Codes, "additional notification codes to suppress")
	f.Bool("cache", d.Cache.Enabled, "cache analysis outcomes between runs")
	f.String("cache-dir", d.Cache.Dir, "directory for the analysis cache")

	f.VisitAll(func(flag *pflag.Flag) {
		if key, ok := flagKeys[flag.Name]; ok {
			_ = viper.BindPFlag(key, flag)
		}
	})
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Input = args[0]
	}

	log := logger.New(logger.Level(verbose, debug))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting verification",
		"input", cfg.Input, "version", cfg.TargetVersion,
		"provision", cfg.Provision.Enabled, "workers", cfg.Verify.Workers)

	p := pipeline.NewPipeline(cfg,
		pipeline.WithLogger(log),
		pipeline.WithObserver(newLogObserver(log)),
	)
	res, err := p.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(err, "interrupted")
		}
		return errors.Wrap(err, "verification failed")
	}

	return renderSummary(cmd.OutOrStdout(), res)
}
