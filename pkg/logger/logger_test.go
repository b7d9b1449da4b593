package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContext_CarriesRequestAndFlowIDs(t *testing.T) {
	var buf bytes.Buffer
	prev := defaultLogger
	defaultLogger = slog.New(slog.NewJSONHandler(&buf, nil))
	t.Cleanup(func() { defaultLogger = prev })

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = WithFlow(ctx, "flow-9")
	InfoContext(ctx, "hello", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "flow-9", line["flow_id"])
	assert.Equal(t, "v", line["k"])
	assert.NotContains(t, line, "user_id")
}
