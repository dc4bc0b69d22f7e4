// Package notify defines the progress-notification contract between the
// execution engine and clients, plus WebSocket, logging, and no-op
// implementations. All sends are best-effort: callers log failures and keep
// executing.
package notify

import (
	"context"
	"time"

	"optichat/pkg/logx"
)

// Meta identifies the invocation a notification belongs to.
type Meta struct {
	RunID     string `json:"run_id"`
	ThreadID  string `json:"thread_id"`
	UserID    string `json:"user_id"`
	AgentName string `json:"agent_name"`
}

// Event is the wire shape of a single progress notification.
type Event struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	ThreadID  string `json:"thread_id"`
	AgentName string `json:"agent_name"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Event type constants. For a given agent, events are emitted in the order
// started -> (thinking | tool_executing | tool_completed)* ->
// (completed | fallback | error).
const (
	EventAgentStarted      = "agent_started"
	EventAgentThinking     = "agent_thinking"
	EventToolExecuting     = "tool_executing"
	EventToolCompleted     = "tool_completed"
	EventAgentCompleted    = "agent_completed"
	EventFallback          = "fallback"
	EventPipelineCompleted = "pipeline_completed"
)

// Notifier sends execution progress to interested clients.
type Notifier interface {
	SendAgentStarted(ctx context.Context, meta Meta) error
	SendAgentThinking(ctx context.Context, meta Meta, text string, stepNumber int) error
	SendToolExecuting(ctx context.Context, meta Meta, toolName string) error
	SendToolCompleted(ctx context.Context, meta Meta, toolName string, result any) error
	SendAgentCompleted(ctx context.Context, meta Meta, result any, durationMS int64) error
	SendFallbackNotification(ctx context.Context, meta Meta, fallbackKind string) error
	SendPipelineCompleted(ctx context.Context, meta Meta, success bool, stepCount int) error
}

// NewEvent builds an Event for the meta with a UTC timestamp.
func NewEvent(eventType string, meta Meta, payload any) Event {
	return Event{
		Type:      eventType,
		RunID:     meta.RunID,
		ThreadID:  meta.ThreadID,
		AgentName: meta.AgentName,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) SendAgentStarted(context.Context, Meta) error { return nil }

func (NopNotifier) SendAgentThinking(context.Context, Meta, string, int) error { return nil }

func (NopNotifier) SendToolExecuting(context.Context, Meta, string) error { return nil }

func (NopNotifier) SendToolCompleted(context.Context, Meta, string, any) error { return nil }

func (NopNotifier) SendAgentCompleted(context.Context, Meta, any, int64) error { return nil }

func (NopNotifier) SendFallbackNotification(context.Context, Meta, string) error { return nil }

func (NopNotifier) SendPipelineCompleted(context.Context, Meta, bool, int) error { return nil }

// LogNotifier writes notifications to the structured log. Useful for local
// runs without connected WebSocket clients.
type LogNotifier struct {
	logger *logx.Logger
}

// NewLogNotifier creates a notifier that logs every event.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logx.NewLogger("notify")}
}

func (n *LogNotifier) SendAgentStarted(_ context.Context, meta Meta) error {
	n.logger.Info("[%s] agent %s started (run %s)", meta.ThreadID, meta.AgentName, meta.RunID)
	return nil
}

func (n *LogNotifier) SendAgentThinking(_ context.Context, meta Meta, text string, stepNumber int) error {
	n.logger.Info("[%s] agent %s thinking (step %d): %s", meta.ThreadID, meta.AgentName, stepNumber, text)
	return nil
}

func (n *LogNotifier) SendToolExecuting(_ context.Context, meta Meta, toolName string) error {
	n.logger.Info("[%s] agent %s executing tool %s", meta.ThreadID, meta.AgentName, toolName)
	return nil
}

func (n *LogNotifier) SendToolCompleted(_ context.Context, meta Meta, toolName string, _ any) error {
	n.logger.Info("[%s] agent %s completed tool %s", meta.ThreadID, meta.AgentName, toolName)
	return nil
}

func (n *LogNotifier) SendAgentCompleted(_ context.Context, meta Meta, _ any, durationMS int64) error {
	n.logger.Info("[%s] agent %s completed in %dms", meta.ThreadID, meta.AgentName, durationMS)
	return nil
}

func (n *LogNotifier) SendFallbackNotification(_ context.Context, meta Meta, fallbackKind string) error {
	n.logger.Warn("[%s] agent %s degraded: %s fallback served", meta.ThreadID, meta.AgentName, fallbackKind)
	return nil
}

func (n *LogNotifier) SendPipelineCompleted(_ context.Context, meta Meta, success bool, stepCount int) error {
	n.logger.Info("[%s] pipeline completed: success=%v steps=%d (run %s)",
		meta.ThreadID, success, stepCount, meta.RunID)
	return nil
}
