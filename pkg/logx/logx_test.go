package logx

import (
	"testing"
	"time"
)

func TestLoggerAgentID(t *testing.T) {
	logger := NewLogger("triage")
	if logger.GetAgentID() != "triage" {
		t.Errorf("Expected agent ID 'triage', got %q", logger.GetAgentID())
	}

	derived := logger.WithAgentID("reporting")
	if derived.GetAgentID() != "reporting" {
		t.Errorf("Expected derived agent ID 'reporting', got %q", derived.GetAgentID())
	}
	if logger.GetAgentID() != "triage" {
		t.Error("WithAgentID must not mutate the original logger")
	}
}

func TestLogBufferCapturesEntries(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second)

	logger := NewLogger("buffer-test")
	logger.Info("hello from the buffer test")

	entries := GetRecentLogEntries(before)
	found := false
	for i := range entries {
		if entries[i].AgentID == "buffer-test" && entries[i].Level == "INFO" {
			found = true
			break
		}
	}
	if !found {
		t.Error("Expected Info entry to be captured in the in-memory buffer")
	}
}

func TestLogBufferTrimsToMaxSize(t *testing.T) {
	buf := &InMemoryLogBuffer{maxSize: 10}
	for i := 0; i < 25; i++ {
		buf.AddLogEntry(&LogEntry{
			Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
			AgentID:   "trim-test",
			Level:     "INFO",
			Message:   "entry",
		})
	}

	entries := buf.GetLogEntries(time.Time{})
	if len(entries) != 10 {
		t.Errorf("Expected buffer trimmed to 10 entries, got %d", len(entries))
	}
}

func TestDebugGating(t *testing.T) {
	SetDebug(false)
	if IsDebugEnabled() {
		t.Error("Expected debug disabled")
	}

	SetDebug(true)
	if !IsDebugEnabled() {
		t.Error("Expected debug enabled")
	}
	SetDebug(false)
}

func TestWrapNilError(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) must return nil")
	}
}
