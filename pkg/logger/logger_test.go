package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/engagekit/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Run("json by default", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))
		log.Info("hello")

		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "hello", entry["msg"])
	})

	t.Run("text format", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithFormat(logger.FormatText))
		log.Info("hello")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("invalid format panics", func(t *testing.T) {
		assert.Panics(t, func() {
			logger.New(logger.WithFormat("xml"))
		})
	})

	t.Run("static attributes", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithAttr(logger.Component("dispatcher")))
		log.Info("x")
		assert.Equal(t, "dispatcher", decode(t, buf)["component"])
	})

	t.Run("level filtering", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithLevel(slog.LevelWarn))
		log.Info("dropped")
		assert.Empty(t, buf.String())
	})
}

func TestWithConfig(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithConfig(logger.Config{Level: "DEBUG", Format: "text"}),
	)
	log.Debug("visible")
	assert.Contains(t, buf.String(), "level=DEBUG")

	buf.Reset()
	log = logger.New(
		logger.WithOutput(buf),
		logger.WithConfig(logger.Config{Level: "nonsense", Format: "nonsense"}),
	)
	log.Info("still json")
	assert.Equal(t, "still json", decode(t, buf)["msg"])
}

func TestSessionIDFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(logger.WithOutput(buf))

	ctx := logger.WithSessionID(context.Background(), "sess-1")
	log.InfoContext(ctx, "tagged")
	assert.Equal(t, "sess-1", decode(t, buf)["session_id"])

	buf.Reset()
	log.InfoContext(context.Background(), "untagged")
	_, ok := decode(t, buf)["session_id"]
	assert.False(t, ok)
}

func TestContextExtractors(t *testing.T) {
	type key struct{}
	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithContextExtractors(nil, func(ctx context.Context) (slog.Attr, bool) {
			v, ok := ctx.Value(key{}).(string)
			return slog.String("device_id", v), ok
		}),
	)
	log.InfoContext(context.WithValue(context.Background(), key{}, "dev-9"), "x")
	assert.Equal(t, "dev-9", decode(t, buf)["device_id"])
}

func TestAttrs(t *testing.T) {
	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
	assert.Equal(t, "error", logger.Error(errors.New("boom")).Key)

	id := uuid.New()
	assert.Equal(t, id.String(), logger.TaskID(id).Value.String())
	assert.True(t, logger.TaskID(nil).Equal(slog.Attr{}))

	type kind string
	assert.Equal(t, "EVENT", logger.TaskType(kind("EVENT")).Value.String())
	assert.True(t, logger.SessionID("").Equal(slog.Attr{}))
	assert.True(t, logger.StatusCode(0).Equal(slog.Attr{}))
	assert.Equal(t, int64(500), logger.StatusCode(500).Value.Int64())
	assert.Equal(t, time.Second, logger.Duration(time.Second).Value.Duration())
}

func TestParseLevel(t *testing.T) {
	lvl, ok := logger.ParseLevel("warning")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, ok = logger.ParseLevel("loud")
	assert.False(t, ok)
}
