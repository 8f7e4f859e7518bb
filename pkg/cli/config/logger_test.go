package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/changegate/pkg/cli/config"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
)

func TestLogger_Configure(t *testing.T) {
	orig := logging.Default()
	t.Cleanup(func() { logging.SetDefault(orig) })

	t.Run("json output redacts secrets", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "changegate.log")
		closer, err := config.NewLoggerForTest("debug", "json", path).Configure()
		gt.NoError(t, err).Required()

		type session struct {
			UserID string
			Token  string `masq:"secret"`
		}
		logging.Default().Info("session stored", "session", session{UserID: "alice", Token: "very-secret-token"})
		closer()

		data, err := os.ReadFile(path)
		gt.NoError(t, err).Required()
		gt.String(t, string(data)).Contains("session stored")
		gt.String(t, string(data)).Contains("alice")
		gt.Bool(t, strings.Contains(string(data), "very-secret-token")).False()
	})

	t.Run("console output", func(t *testing.T) {
		closer, err := config.NewLoggerForTest("info", "console", "stderr").Configure()
		gt.NoError(t, err).Required()
		closer()
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := config.NewLoggerForTest("verbose", "json", "-").Configure()
		gt.Error(t, err).Is(config.ErrInvalidConfig)
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := config.NewLoggerForTest("info", "xml", "-").Configure()
		gt.Error(t, err).Is(config.ErrInvalidConfig)
	})
}
