package utils

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/pgtenant/internal/analyzer"
	"github.com/vitebski/pgtenant/pkg/connector"
	"github.com/vitebski/pgtenant/pkg/models"
	"github.com/vitebski/pgtenant/pkg/provisioner"
)

func createTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func TestSetupLogging(t *testing.T) {
	// Test with default log level
	t.Setenv("PGTENANT_LOG_LEVEL", "")
	logger := SetupLogging("")
	if logger == nil {
		t.Fatal("Expected logger to be created, got nil")
	}
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Expected default log level to be info, got %s", logger.Level)
	}

	// Test with specific log level
	logger = SetupLogging("debug")
	if logger.Level != logrus.DebugLevel {
		t.Errorf("Expected log level to be debug, got %s", logger.Level)
	}

	logger = SetupLogging("warn")
	if logger.Level != logrus.WarnLevel {
		t.Errorf("Expected log level to be warn, got %s", logger.Level)
	}

	// Test with invalid log level (should default to info)
	logger = SetupLogging("invalid")
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Expected log level to be info for invalid input, got %s", logger.Level)
	}

	// Environment is used when no level is passed
	t.Setenv("PGTENANT_LOG_LEVEL", "error")
	logger = SetupLogging("")
	if logger.Level != logrus.ErrorLevel {
		t.Errorf("Expected log level from environment to be error, got %s", logger.Level)
	}
}

func TestLoadEnvironmentVariables(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "POSTGRES_HOST=db.internal\nPOSTGRES_USER=svc\nPOSTGRES_PASSWORD=secret\nPOSTGRES_PORT=6543\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}

	// godotenv does not override variables that are already set
	for _, key := range []string{"POSTGRES_HOST", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_PORT", "POSTGRES_DATABASE", "POSTGRES_SSLMODE", "POSTGRES_DRIVER"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	if !LoadEnvironmentVariables(envFile, createTestLogger()) {
		t.Fatal("Expected required variables to be present after loading the env file")
	}

	cfg := ConfigFromEnv()
	if cfg.Host != "db.internal" || cfg.User != "svc" || cfg.Password != "secret" || cfg.Port != 6543 {
		t.Errorf("Unexpected config from environment: %s", cfg.Redacted())
	}
	if cfg.Database != "" {
		t.Errorf("Expected no database, got %s", cfg.Database)
	}
}

func TestLoadEnvironmentVariablesMissing(t *testing.T) {
	for _, key := range []string{"POSTGRES_HOST", "POSTGRES_USER", "POSTGRES_PASSWORD"} {
		t.Setenv(key, "")
	}
	if LoadEnvironmentVariables(filepath.Join(t.TempDir(), ".env"), createTestLogger()) {
		t.Error("Expected missing variables to be reported")
	}
}

func TestGetEnvInt(t *testing.T) {
	// Test with environment variable set
	t.Setenv("TEST_ENV_INT", "42")
	value := GetEnvInt("TEST_ENV_INT", 10)
	if value != 42 {
		t.Errorf("Expected value to be 42, got %d", value)
	}

	// Test with environment variable not set
	os.Unsetenv("TEST_ENV_INT")
	value = GetEnvInt("TEST_ENV_INT", 10)
	if value != 10 {
		t.Errorf("Expected value to be 10 (default), got %d", value)
	}

	// Test with invalid integer
	t.Setenv("TEST_ENV_INT", "not-an-int")
	value = GetEnvInt("TEST_ENV_INT", 10)
	if value != 10 {
		t.Errorf("Expected value to be 10 (default) for invalid input, got %d", value)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_ENV_DURATION", "90s")
	if d := GetEnvDuration("TEST_ENV_DURATION", time.Minute); d != 90*time.Second {
		t.Errorf("Expected 90s, got %s", d)
	}

	t.Setenv("TEST_ENV_DURATION", "soon")
	if d := GetEnvDuration("TEST_ENV_DURATION", time.Minute); d != time.Minute {
		t.Errorf("Expected default for invalid input, got %s", d)
	}

	t.Setenv("TEST_ENV_DURATION", "-5s")
	if d := GetEnvDuration("TEST_ENV_DURATION", time.Minute); d != time.Minute {
		t.Errorf("Expected default for negative input, got %s", d)
	}
}

func TestValidateConnectionParams(t *testing.T) {
	logger := createTestLogger()
	valid := models.ConnectionConfig{Host: "localhost", Port: 5432, User: "user", Password: "pw"}

	// Test with valid parameters
	if !ValidateConnectionParams(valid, logger) {
		t.Error("Expected validation to pass with valid parameters")
	}

	// Test with missing host
	cfg := valid
	cfg.Host = ""
	if ValidateConnectionParams(cfg, logger) {
		t.Error("Expected validation to fail with missing host")
	}

	// Test with missing user
	cfg = valid
	cfg.User = ""
	if ValidateConnectionParams(cfg, logger) {
		t.Error("Expected validation to fail with missing user")
	}

	// Test with invalid port
	cfg = valid
	cfg.Port = 70000
	if ValidateConnectionParams(cfg, logger) {
		t.Error("Expected validation to fail with invalid port")
	}

	// Test with unsupported driver
	cfg = valid
	cfg.Driver = "mysql"
	if ValidateConnectionParams(cfg, logger) {
		t.Error("Expected validation to fail with unsupported driver")
	}

	// Empty password is allowed
	cfg = valid
	cfg.Password = ""
	if !ValidateConnectionParams(cfg, logger) {
		t.Error("Expected validation to pass with empty password")
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	registrations := []*provisioner.Registration{
		{
			Tenant:    models.Tenant{Name: "billing"},
			Created:   true,
			Migration: &models.MigrationResult{Status: models.MigrationSucceeded},
		},
		{
			Tenant:    models.Tenant{Name: "crm"},
			Migration: &models.MigrationResult{Status: models.MigrationSkipped},
			Warnings:  []string{"migrations were not run"},
		},
		nil,
	}

	PrintSummary(&buf, registrations, map[string]error{"hr": errors.New("connection refused")})
	out := buf.String()

	for _, want := range []string{
		"Registered tenants: 2",
		"Databases created: 1",
		"Migrations succeeded: 1",
		"Tenants with warnings: 1",
		"Failed tenants: 1",
		"Warnings for crm:",
		"  - hr: connection refused",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected summary to contain %q, got:\n%s", want, out)
		}
	}
}

func TestPrintSchemaAnalysis(t *testing.T) {
	schemaAnalyzer := analyzer.NewSchemaAnalyzer(createTestLogger())
	err := schemaAnalyzer.AnalyzeTables([]models.Table{
		models.TableDefinition{Name: "invoice", ForeignKeys: []models.ForeignKey{{Column: "account_id", ReferencedTable: "account"}}},
		models.TableDefinition{Name: "account"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var buf bytes.Buffer
	PrintSchemaAnalysis(&buf, schemaAnalyzer)
	out := buf.String()

	if !strings.Contains(out, "  1. account (Standalone)") {
		t.Errorf("Expected account first, got:\n%s", out)
	}
	if !strings.Contains(out, "  2. invoice (Dependent on account)") {
		t.Errorf("Expected invoice second, got:\n%s", out)
	}
	if strings.Contains(out, "CIRCULAR DEPENDENCIES") {
		t.Errorf("Expected no cycle section, got:\n%s", out)
	}
}

func TestVerifyTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	engine := connector.NewEngine(db, "localhost", "billing", createTestLogger())

	mock.ExpectQuery("FROM information_schema.tables").
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("account"))

	ok, missing := VerifyTables(context.Background(), engine, []string{"account", "invoice"}, createTestLogger())
	if ok {
		t.Error("Expected verification to fail")
	}
	if len(missing) != 1 || missing[0] != "invoice" {
		t.Errorf("Expected invoice to be missing, got %v", missing)
	}

	var buf bytes.Buffer
	PrintVerificationResults(&buf, "billing", missing)
	if !strings.Contains(buf.String(), "1 tables are missing from billing") {
		t.Errorf("Unexpected verification output:\n%s", buf.String())
	}
}
