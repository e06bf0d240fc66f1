package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	// Initially empty.
	assert.Equal(t, "", SessionID(ctx))
	assert.Equal(t, "", ScenarioID(ctx))
	assert.Equal(t, "", NodeID(ctx))

	// Set values.
	ctx = WithSessionID(ctx, "sess-123")
	ctx = WithScenarioID(ctx, "booking")
	ctx = WithNodeID(ctx, "greet")

	// Round-trip.
	assert.Equal(t, "sess-123", SessionID(ctx))
	assert.Equal(t, "booking", ScenarioID(ctx))
	assert.Equal(t, "greet", NodeID(ctx))
}

func TestWithIDs(t *testing.T) {
	ctx := WithIDs(context.Background(), "s1", "sc1", "n1")
	assert.Equal(t, "s1", SessionID(ctx))
	assert.Equal(t, "sc1", ScenarioID(ctx))
	assert.Equal(t, "n1", NodeID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := context.Background()
	ctx = WithSessionID(ctx, "sess-abc")
	ctx = WithScenarioID(ctx, "booking")

	enriched := LogWith(ctx, logger)
	enriched.Info("walk advanced")

	out := buf.String()
	assert.Contains(t, out, "session_id=sess-abc")
	assert.Contains(t, out, "scenario_id=booking")
	assert.NotContains(t, out, "node_id=", "empty IDs must not be added")
}

func TestLogWithPartialContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithSessionID(context.Background(), "sess-only")
	LogWith(ctx, logger).Info("msg")

	out := buf.String()
	assert.Contains(t, out, "session_id=sess-only")
	assert.NotContains(t, out, "scenario_id=")
}

func TestCorrelationHandlerInjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithIDs(context.Background(), "sess-9", "booking", "reserve")
	logger.InfoContext(ctx, "node executed")

	out := buf.String()
	assert.Contains(t, out, "session_id=sess-9")
	assert.Contains(t, out, "scenario_id=booking")
	assert.Contains(t, out, "node_id=reserve")
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(context.Background(), "plain")

	out := buf.String()
	assert.NotContains(t, out, "session_id=")
	assert.NotContains(t, out, "scenario_id=")
}

func TestCorrelationHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner)).With("component", "engine").WithGroup("walk")

	ctx := WithSessionID(context.Background(), "sess-g")
	logger.InfoContext(ctx, "msg", "step", 3)

	out := buf.String()
	assert.Contains(t, out, "component=engine")
	assert.Contains(t, out, "walk.step=3")
	assert.Contains(t, out, "session_id=sess-g")
}
