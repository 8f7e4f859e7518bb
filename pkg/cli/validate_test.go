package cli_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/changegate/pkg/cli"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	gt.NoError(t, os.WriteFile(path, []byte(content), 0o600)).Required()
	return path
}

func TestRun_ValidateCommand_ValidConfig(t *testing.T) {
	configPath := writeFile(t, "config.toml", `
[[user]]
id = "alice"
role = "USER"
password_hash = "$2a$10$abcdefghijklmnopqrstuv"

[[transition]]
from = "SUBMITTED"
to = "REVIEWED"
roles = ["TECHNICIAN"]
notify = true
`)

	err := cli.Run(context.Background(), []string{"changegate", "validate", "--config", configPath}, "test")
	gt.NoError(t, err)
}

func TestRun_ValidateCommand_InvalidConfig(t *testing.T) {
	configPath := writeFile(t, "config.toml", `
[[user]]
id = "alice"
role = "SUPERUSER"
password_hash = "x"
`)

	err := cli.Run(context.Background(), []string{"changegate", "validate", "--config", configPath}, "test")
	gt.Value(t, err).NotNil()
}

func TestRun_ValidateCommand_MissingConfig(t *testing.T) {
	err := cli.Run(context.Background(), []string{"changegate", "validate", "--config", filepath.Join(t.TempDir(), "none.toml")}, "test")
	gt.Value(t, err).NotNil()
}

func TestRun_ValidateCommand_CheckDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "device.db")
	err := cli.Run(context.Background(), []string{
		"changegate", "validate", "--check-db",
		"--repository-backend", "sqlite", "--sqlite-path", dbPath,
	}, "test")
	gt.NoError(t, err)
}

func TestRun_MigrateSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "changegate.db")
	err := cli.Run(context.Background(), []string{
		"changegate", "migrate",
		"--repository-backend", "sqlite", "--sqlite-path", dbPath,
	}, "test")
	gt.NoError(t, err)

	_, err = os.Stat(dbPath)
	gt.NoError(t, err)
}

func TestRun_MigrateMemory(t *testing.T) {
	err := cli.Run(context.Background(), []string{
		"changegate", "migrate", "--repository-backend", "memory",
	}, "test")
	gt.Value(t, err).NotNil()
}
