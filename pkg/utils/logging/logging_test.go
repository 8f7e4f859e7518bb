package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
)

func TestFrom(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	gt.Value(t, logging.From(context.Background())).Equal(logging.Default())

	ctx := logging.With(context.Background(), logger)
	logging.From(ctx).Info("hello")
	gt.String(t, buf.String()).Contains("hello")
}
