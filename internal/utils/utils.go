package utils

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/pgtenant/internal/analyzer"
	"github.com/vitebski/pgtenant/pkg/connector"
	"github.com/vitebski/pgtenant/pkg/models"
	"github.com/vitebski/pgtenant/pkg/provisioner"
)

// SetupLogging configures the logging system
func SetupLogging(logLevel string) *logrus.Logger {
	// Create a new logger
	logger := logrus.New()

	// Get log level from environment variable or parameter
	levelStr := logLevel
	if levelStr == "" {
		levelStr = os.Getenv("PGTENANT_LOG_LEVEL")
		if levelStr == "" {
			levelStr = "info"
		}
	}

	// Parse log level
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	// Configure logger
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stdout)

	logger.Debugf("Logging configured with level: %s", level)
	return logger
}

// LoadEnvironmentVariables loads environment variables from .env file
func LoadEnvironmentVariables(envFile string, logger *logrus.Logger) bool {
	// Check if a sample .env file exists but not the actual .env file
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		sampleEnvFile := envFile + ".sample"
		if _, err := os.Stat(sampleEnvFile); err == nil {
			logger.Infof("No %s file found, but %s exists. Consider copying %s to %s and updating it.",
				envFile, sampleEnvFile, sampleEnvFile, envFile)
		}
	}

	// Load environment variables from .env file if it exists
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.Warningf("Error loading %s file: %v", envFile, err)
		} else {
			logger.Debugf("Loaded environment variables from %s", envFile)
		}
	} else {
		logger.Debugf("No %s file found, using existing environment variables", envFile)
	}

	// Check for required environment variables
	requiredVars := []string{"POSTGRES_HOST", "POSTGRES_USER", "POSTGRES_PASSWORD"}
	var missingVars []string

	for _, v := range requiredVars {
		if os.Getenv(v) == "" {
			missingVars = append(missingVars, v)
		}
	}

	if len(missingVars) > 0 {
		logger.Warningf("Missing required environment variables: %s", strings.Join(missingVars, ", "))
		logger.Info("These can be provided via command line arguments, environment variables, or a .env file")
		return false
	}

	// Log all available POSTGRES_* environment variables (for debugging)
	if logger.Level == logrus.DebugLevel {
		for _, env := range os.Environ() {
			if strings.HasPrefix(env, "POSTGRES_") || strings.HasPrefix(env, "PGTENANT_") {
				parts := strings.SplitN(env, "=", 2)
				if len(parts) == 2 {
					// Mask password
					if parts[0] == "POSTGRES_PASSWORD" {
						logger.Debugf("%s=********", parts[0])
					} else {
						logger.Debugf("%s=%s", parts[0], parts[1])
					}
				}
			}
		}
	}

	return true
}

// ConfigFromEnv builds a connection config from the POSTGRES_* variables
func ConfigFromEnv() models.ConnectionConfig {
	return models.ConnectionConfig{
		Host:     os.Getenv("POSTGRES_HOST"),
		Port:     GetEnvInt("POSTGRES_PORT", connector.DefaultPort),
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Database: os.Getenv("POSTGRES_DATABASE"),
		SSLMode:  os.Getenv("POSTGRES_SSLMODE"),
		Driver:   os.Getenv("POSTGRES_DRIVER"),
	}
}

// GetEnvInt gets an integer value from environment variable
func GetEnvInt(varName string, defaultValue int) int {
	value := os.Getenv(varName)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// GetEnvDuration gets a duration such as "90s" from environment variable
func GetEnvDuration(varName string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(varName)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}

	return d
}

// ValidateConnectionParams validates database connection parameters
func ValidateConnectionParams(cfg models.ConnectionConfig, logger *logrus.Logger) bool {
	if cfg.Host == "" {
		logger.Error("Database host is required")
		return false
	}

	if cfg.User == "" {
		logger.Error("Database user is required")
		return false
	}

	if cfg.Password == "" { // Empty password is allowed
		logger.Warning("Database password is empty")
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		logger.Errorf("Invalid port number: %d", cfg.Port)
		return false
	}

	if _, err := connector.DriverName(cfg); err != nil {
		logger.Errorf("Invalid driver: %v", err)
		return false
	}

	return true
}

// PrintSummary prints a summary of a registration run
func PrintSummary(w io.Writer, registrations []*provisioner.Registration, failures map[string]error) {
	var created, migrated, warned int
	for _, reg := range registrations {
		if reg == nil {
			continue
		}
		if reg.Created {
			created++
		}
		if reg.Migration != nil && reg.Migration.Status == models.MigrationSucceeded {
			migrated++
		}
		if len(reg.Warnings) > 0 {
			warned++
		}
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 50))
	fmt.Fprintln(w, "TENANT REGISTRATION SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Registered tenants: %d\n", len(registrations)-countNil(registrations))
	fmt.Fprintf(w, "Databases created: %d\n", created)
	fmt.Fprintf(w, "Migrations succeeded: %d\n", migrated)
	fmt.Fprintf(w, "Tenants with warnings: %d\n", warned)
	fmt.Fprintf(w, "Failed tenants: %d\n", len(failures))

	for _, reg := range registrations {
		if reg == nil || len(reg.Warnings) == 0 {
			continue
		}
		fmt.Fprintf(w, "\nWarnings for %s:\n", reg.Tenant.Name)
		for _, warning := range reg.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}

	if len(failures) > 0 {
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Fprintln(w, "\nFailed tenants:")
		for _, name := range names {
			fmt.Fprintf(w, "  - %s: %v\n", name, failures[name])
		}
	}

	fmt.Fprintln(w, strings.Repeat("=", 50))
}

func countNil(registrations []*provisioner.Registration) int {
	n := 0
	for _, reg := range registrations {
		if reg == nil {
			n++
		}
	}
	return n
}

// PrintSchemaAnalysis prints the creation plan of a set of tables
func PrintSchemaAnalysis(w io.Writer, schemaAnalyzer *analyzer.SchemaAnalyzer) {
	tables := schemaAnalyzer.Tables
	references := schemaAnalyzer.References

	// Get table order and circular dependencies
	orderedTables, cycleErr := schemaAnalyzer.GetTableCreationOrder()
	circularTables := schemaAnalyzer.GetCircularTables()

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(w, "TABLE CREATION PLAN")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	// Basic statistics
	fmt.Fprintln(w, "\n1. BASIC STATISTICS")
	fmt.Fprintf(w, "   Total tables: %d\n", len(tables))
	fmt.Fprintf(w, "   Tables with foreign keys: %d\n", len(references))
	fmt.Fprintf(w, "   Tables in circular dependencies: %d\n", len(circularTables))

	// Circular dependencies
	if len(circularTables) > 0 {
		fmt.Fprintln(w, "\n2. CIRCULAR DEPENDENCIES")
		for _, dep := range schemaAnalyzer.DirectCircularDeps {
			fmt.Fprintf(w, "     %s\n", strings.Join(dep, " <-> "))
		}
		if cycleErr != nil {
			fmt.Fprintln(w, "   The order below is best effort; creation will report a soft failure.")
		}
	}

	// Table creation order
	fmt.Fprintln(w, "\n3. TABLE CREATION ORDER")
	for i, table := range orderedTables {
		category := "Standalone"
		if circularTables[table] {
			category = "Circular"
		} else if len(references[table]) > 0 {
			category = "Dependent on " + strings.Join(references[table], ", ")
		}
		fmt.Fprintf(w, "   %3d. %s (%s)\n", i+1, table, category)
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
}

// VerifyTables checks that every table exists in the engine's database
func VerifyTables(ctx context.Context, engine *connector.Engine, tables []string, logger *logrus.Logger) (bool, []string) {
	logger.Infof("Verifying that %d table(s) exist in %s...", len(tables), engine.Database)

	existing, err := analyzer.ExistingTables(ctx, engine, analyzer.DefaultSchema)
	if err != nil {
		logger.Warningf("Could not list tables of %s: %v", engine.Database, err)
		return false, tables
	}

	var missingTables []string
	for _, table := range tables {
		if !existing[table] {
			logger.Warningf("Table %s does not exist", table)
			missingTables = append(missingTables, table)
		}
	}

	if len(missingTables) == 0 {
		logger.Info("Verification successful: all tables exist")
		return true, nil
	}
	logger.Errorf("Verification failed: %d tables are missing", len(missingTables))
	return false, missingTables
}

// PrintVerificationResults prints the results of the table verification
func PrintVerificationResults(w io.Writer, database string, missingTables []string) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 50))
	fmt.Fprintln(w, "TABLE VERIFICATION RESULTS")
	fmt.Fprintln(w, strings.Repeat("=", 50))

	if len(missingTables) == 0 {
		fmt.Fprintf(w, "✅ All tables exist in %s\n", database)
		fmt.Fprintln(w, strings.Repeat("=", 50))
		return
	}

	fmt.Fprintf(w, "❌ %d tables are missing from %s:\n", len(missingTables), database)
	for _, table := range missingTables {
		fmt.Fprintf(w, "  - %s\n", table)
	}

	fmt.Fprintln(w, strings.Repeat("=", 50))
}
