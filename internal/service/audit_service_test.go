package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/checkpoint-service/internal/domain"
	"github.com/spec-kit/checkpoint-service/internal/events"
)

func TestAuditServiceLogsOutcomes(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	dispatcher := events.NewInMemoryDispatcher()
	NewAuditService(dispatcher, zap.New(core)).RegisterHandlers()

	score := 0.82
	ctx := context.Background()
	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		Type:      events.EventSessionSucceeded,
		SubjectID: "emp-42",
		Payload: events.SessionFinishedPayload{Session: domain.VerificationSession{
			SubjectID: "emp-42",
			Stage:     domain.StageSucceeded,
			LastScore: &score,
		}},
	}))
	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		Type:      events.EventAttendanceFailed,
		SubjectID: "emp-42",
		Payload:   events.AttendancePayload{Error: "db down"},
	}))

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "SessionFinished", entries[0].Message)
	assert.Equal(t, "succeeded", entries[0].ContextMap()["stage"])
	assert.InDelta(t, 0.82, entries[0].ContextMap()["score"], 1e-9)
	assert.Equal(t, "AttendanceFailed", entries[1].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "db down", entries[1].ContextMap()["error"])
}
