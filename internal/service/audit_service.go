package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/checkpoint-service/internal/events"
)

// AuditService writes an audit trail of session and attendance outcomes.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger.Named("audit"),
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Subscribe(events.EventSessionSucceeded, a.handleSessionFinished)
	a.dispatcher.Subscribe(events.EventSessionFailed, a.handleSessionFinished)
	a.dispatcher.Subscribe(events.EventAttendanceRecorded, a.handleAttendanceRecorded)
	a.dispatcher.Subscribe(events.EventAttendanceFailed, a.handleAttendanceFailed)
}

func (a *AuditService) handleSessionFinished(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SessionFinishedPayload)
	if !ok {
		a.logger.Warn("unexpected payload", zap.String("event_type", string(event.Type)))
		return nil
	}
	sess := payload.Session
	fields := []zap.Field{
		zap.String("subject_id", event.SubjectID),
		zap.String("session_id", sess.ID),
		zap.String("stage", string(sess.Stage)),
		zap.String("token_id", sess.TokenID),
		zap.Duration("elapsed", sess.UpdatedAt.Sub(sess.CreatedAt)),
	}
	if sess.Reason != "" {
		fields = append(fields, zap.String("reason", string(sess.Reason)))
	}
	if sess.LastScore != nil {
		fields = append(fields, zap.Float64("score", *sess.LastScore))
	}
	a.logger.Info("SessionFinished", fields...)
	return nil
}

func (a *AuditService) handleAttendanceRecorded(_ context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.AttendancePayload)
	a.logger.Info("AttendanceRecorded",
		zap.String("subject_id", event.SubjectID),
		zap.String("record_id", payload.Record.ID),
		zap.String("session_id", payload.Record.SessionID),
		zap.String("method", string(payload.Record.Method)))
	return nil
}

func (a *AuditService) handleAttendanceFailed(_ context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.AttendancePayload)
	a.logger.Error("AttendanceFailed",
		zap.String("subject_id", event.SubjectID),
		zap.String("token_id", payload.Record.TokenID),
		zap.String("error", payload.Error))
	return nil
}
