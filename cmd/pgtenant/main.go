package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vitebski/pgtenant/internal/analyzer"
	"github.com/vitebski/pgtenant/internal/manifest"
	"github.com/vitebski/pgtenant/internal/metrics"
	"github.com/vitebski/pgtenant/internal/migrate"
	"github.com/vitebski/pgtenant/internal/tenant"
	"github.com/vitebski/pgtenant/internal/utils"
	"github.com/vitebski/pgtenant/pkg/connector"
	"github.com/vitebski/pgtenant/pkg/models"
	"github.com/vitebski/pgtenant/pkg/provisioner"
)

type options struct {
	host             string
	user             string
	password         string
	database         string
	port             int
	sslMode          string
	driver           string
	tool             string
	envFile          string
	logLevel         string
	uncPolicy        string
	connectTimeout   string
	migrationTimeout string
}

// app holds what every subcommand needs once flags are parsed
type app struct {
	logger      *logrus.Logger
	cfg         models.ConnectionConfig
	provisioner *provisioner.Provisioner
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "pgtenant",
		Short: "Provision one PostgreSQL database per tenant and keep its schema migrated",
		Long: `pgtenant

Gives every tenant directory its own PostgreSQL database, runs the tenant's
migrations with the external migration tool, creates the tables it declares
in tables.yaml and hands back a pooled connection bound to them.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.host, "host", "H", "", "PostgreSQL host (env POSTGRES_HOST)")
	flags.StringVarP(&opts.user, "user", "u", "", "PostgreSQL user (env POSTGRES_USER)")
	flags.StringVarP(&opts.password, "password", "p", "", "PostgreSQL password (env POSTGRES_PASSWORD)")
	flags.StringVarP(&opts.database, "database", "d", "", "Maintenance database (default: postgres)")
	flags.IntVarP(&opts.port, "port", "P", 0, "PostgreSQL port (default: 5432)")
	flags.StringVar(&opts.sslMode, "sslmode", "", "PostgreSQL sslmode (env POSTGRES_SSLMODE)")
	flags.StringVar(&opts.driver, "driver", "", "database/sql driver: pgx or postgres (env POSTGRES_DRIVER)")
	flags.StringVar(&opts.tool, "tool", "", "Migration tool executable (env PGTENANT_MIGRATION_TOOL, default: piccolo)")
	flags.StringVarP(&opts.envFile, "env-file", "e", ".env", "Path to .env file")
	flags.StringVarP(&opts.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.uncPolicy, "unc-policy", "warn", "What to do with tenants on network shares: warn or fail")
	flags.StringVar(&opts.connectTimeout, "connect-timeout", "", "Connection timeout (default: 10s)")
	flags.StringVar(&opts.migrationTimeout, "migration-timeout", "", "Migration timeout (default: 5m)")

	rootCmd.AddCommand(
		registerCommand(&opts),
		migrateCommand(&opts),
		newMigrationCommand(&opts),
		reverseCommand(&opts),
		diagnoseCommand(&opts),
		ensureDBCommand(&opts),
		planCommand(&opts),
		hostCommand(&opts),
	)

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// setup builds the logger, connection config and provisioner from flags,
// the environment and the .env file
func setup(opts *options, reg prometheus.Registerer) (*app, error) {
	// Setup logging
	logger := utils.SetupLogging(opts.logLevel)

	// Load environment variables
	utils.LoadEnvironmentVariables(opts.envFile, logger)

	// Flags win over the environment
	cfg := utils.ConfigFromEnv()
	if opts.host != "" {
		cfg.Host = opts.host
	}
	if opts.user != "" {
		cfg.User = opts.user
	}
	if opts.password != "" {
		cfg.Password = opts.password
	}
	if opts.database != "" {
		cfg.Database = opts.database
	}
	if opts.port != 0 {
		cfg.Port = opts.port
	}
	if opts.sslMode != "" {
		cfg.SSLMode = opts.sslMode
	}
	if opts.driver != "" {
		cfg.Driver = opts.driver
	}

	// Validate connection parameters
	if !utils.ValidateConnectionParams(cfg, logger) {
		return nil, errors.New("invalid connection parameters")
	}

	policy, ok := provisioner.ParseUNCPolicy(opts.uncPolicy)
	if !ok {
		return nil, fmt.Errorf("unknown UNC policy %q", opts.uncPolicy)
	}

	p := provisioner.NewProvisioner(logger)
	p.UNCPolicy = policy
	p.Acquirer.Timeout = utils.GetEnvDuration("PGTENANT_CONNECT_TIMEOUT", connector.DefaultAcquireTimeout)
	p.Runner.Timeout = utils.GetEnvDuration("PGTENANT_MIGRATION_TIMEOUT", migrate.DefaultTimeout)
	if err := overrideDuration(opts.connectTimeout, &p.Acquirer.Timeout); err != nil {
		return nil, err
	}
	if err := overrideDuration(opts.migrationTimeout, &p.Runner.Timeout); err != nil {
		return nil, err
	}

	p.Runner.Tool = opts.tool
	if p.Runner.Tool == "" {
		p.Runner.Tool = os.Getenv("PGTENANT_MIGRATION_TOOL")
	}
	if p.Runner.Tool == "" {
		p.Runner.Tool = migrate.DefaultTool
	}

	if reg != nil {
		p.Metrics = metrics.New(reg)
	}

	logger.Debugf("Using %s", cfg.Redacted())
	return &app{logger: logger, cfg: cfg, provisioner: p}, nil
}

func overrideDuration(flag string, target *time.Duration) error {
	if flag == "" {
		return nil
	}
	d, err := time.ParseDuration(flag)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid duration %q", flag)
	}
	*target = d
	return nil
}

// targets loads the table manifest of every tenant directory
func targets(dirs []string, logger *logrus.Logger) ([]provisioner.Target, error) {
	result := make([]provisioner.Target, 0, len(dirs))
	for _, dir := range dirs {
		tables, err := manifest.LoadTenant(dir)
		if err != nil {
			return nil, err
		}
		logger.Debugf("Loaded %d table(s) for %s", len(tables), dir)
		result = append(result, provisioner.Target{Path: dir, Tables: tables})
	}
	return result, nil
}

func registerCommand(opts *options) *cobra.Command {
	var (
		maxPoolSize int
		trace       bool
		verify      bool
	)

	cmd := &cobra.Command{
		Use:   "register <tenant-dir>...",
		Short: "Register tenants: create their databases, migrate them and create their tables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts, nil)
			if err != nil {
				return err
			}
			defer a.provisioner.Close()

			tenantTargets, err := targets(args, a.logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			registrations, err := a.provisioner.RegisterAll(ctx, tenantTargets, a.cfg,
				provisioner.WithMaxPoolSize(maxPoolSize), provisioner.WithTrace(trace))

			var targetErrs provisioner.TargetErrors
			errors.As(err, &targetErrs)
			failures := make(map[string]error)
			for i, reg := range registrations {
				if reg == nil {
					failures[args[i]] = failureFor(targetErrs, i, err)
				}
			}
			utils.PrintSummary(os.Stdout, registrations, failures)

			// Verify tables if requested
			verificationSuccess := true
			if verify {
				for _, reg := range registrations {
					if reg == nil || len(reg.Tables) == 0 {
						continue
					}
					names := make([]string, 0, len(reg.Tables))
					for _, table := range reg.Tables {
						names = append(names, table.TableName())
					}
					ok, missing := utils.VerifyTables(ctx, reg.Engine, names, a.logger)
					utils.PrintVerificationResults(os.Stdout, reg.Engine.Database, missing)
					verificationSuccess = verificationSuccess && ok
				}
			}

			if err != nil {
				return err
			}
			if !verificationSuccess {
				return errors.New("table verification failed")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxPoolSize, "max-pool-size", connector.DefaultPoolSize, "Maximum connections per tenant pool")
	cmd.Flags().BoolVar(&trace, "trace", false, "Run migrations with tracing")
	cmd.Flags().BoolVarP(&verify, "verify", "v", false, "Verify that every declared table exists after registration")
	return cmd
}

// failureFor picks the error of the i-th target out of a RegisterAll error
func failureFor(errs provisioner.TargetErrors, i int, err error) error {
	if i < len(errs) && errs[i] != nil {
		return errs[i]
	}
	return err
}

func printMigration(result *models.MigrationResult) error {
	if result == nil {
		return nil
	}
	fmt.Println(result.Output)
	if result.Status != models.MigrationSucceeded {
		return fmt.Errorf("%s: %s (exit code %d)", strings.Join(result.Command, " "), result.Status, result.ExitCode)
	}
	return nil
}

func migrateCommand(opts *options) *cobra.Command {
	var trace bool

	cmd := &cobra.Command{
		Use:   "migrate <tenant-dir>",
		Short: "Apply pending migrations of a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts, nil)
			if err != nil {
				return err
			}
			result, err := a.provisioner.RunMigrations(cmd.Context(), args[0], a.cfg, trace)
			if err != nil {
				return err
			}
			return printMigration(result)
		},
	}

	cmd.Flags().BoolVar(&trace, "trace", false, "Run migrations with tracing")
	return cmd
}

func newMigrationCommand(opts *options) *cobra.Command {
	var trace bool

	cmd := &cobra.Command{
		Use:   "new-migration <tenant-dir>",
		Short: "Generate a migration from the tenant's table changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts, nil)
			if err != nil {
				return err
			}
			result, err := a.provisioner.NewMigration(cmd.Context(), args[0], a.cfg, trace)
			if err != nil {
				return err
			}
			return printMigration(result)
		},
	}

	cmd.Flags().BoolVar(&trace, "trace", false, "Run the tool with tracing")
	return cmd
}

func reverseCommand(opts *options) *cobra.Command {
	var (
		migrationID string
		trace       bool
	)

	cmd := &cobra.Command{
		Use:   "reverse <tenant-dir>",
		Short: "Revert a tenant's migrations back to a migration id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts, nil)
			if err != nil {
				return err
			}
			result, err := a.provisioner.ReverseMigrations(cmd.Context(), args[0], a.cfg, migrationID, trace)
			if err != nil {
				return err
			}
			return printMigration(result)
		},
	}

	cmd.Flags().StringVarP(&migrationID, "migration-id", "m", "", "Migration to revert to (required)")
	cmd.Flags().BoolVar(&trace, "trace", false, "Run the tool with tracing")
	_ = cmd.MarkFlagRequired("migration-id")
	return cmd
}

func diagnoseCommand(opts *options) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "diagnose <tenant-dir>",
		Short: "Run the migration tool diagnostics for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts, nil)
			if err != nil {
				return err
			}
			out, err := a.provisioner.Diagnose(cmd.Context(), args[0], a.cfg, check)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Also check which migrations have run")
	return cmd
}

func ensureDBCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-db <tenant-dir>",
		Short: "Create the tenant database if it does not exist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts, nil)
			if err != nil {
				return err
			}
			created, err := a.provisioner.EnsureDatabase(cmd.Context(), args[0], a.cfg)
			if err != nil {
				return err
			}
			name := tenant.NameOf(args[0])
			if created {
				fmt.Printf("Created database %s\n", name)
			} else {
				fmt.Printf("Database %s already exists\n", name)
			}
			return nil
		},
	}
}

func planCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <tenant-dir>",
		Short: "Print the table creation order of a tenant's manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := utils.SetupLogging(opts.logLevel)

			t, err := tenant.Resolve(args[0])
			if err != nil {
				return err
			}
			m, err := manifest.LoadFromFile(filepath.Join(t.Dir, manifest.FileName))
			if err != nil {
				return err
			}

			schemaAnalyzer := analyzer.NewSchemaAnalyzer(logger)
			if err := schemaAnalyzer.AnalyzeTables(m.Descriptors()); err != nil {
				return err
			}
			utils.PrintSchemaAnalysis(os.Stdout, schemaAnalyzer)
			return nil
		},
	}
}
