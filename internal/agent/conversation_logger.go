package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogEvent is one logged chat event.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	Kind       string         `json:"kind,omitempty"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records chat traffic for later review.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// NewNoopConversationLogger returns a logger that discards everything.
func NewNoopConversationLogger() ConversationLogger {
	return noopConversationLogger{}
}

// fileConversationLogger writes per-session NDJSON files asynchronously.
// Events are dropped, not blocked on, when the queue is full.
type fileConversationLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger
	queue  chan ConversationLogEvent
	done   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
}

// NewConversationLogger creates a conversation logger. When logging is
// disabled it returns the no-op implementation.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &fileConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.drain()
	return l, nil
}

// Log enqueues an event. Full queues drop the event rather than stall the
// chat path.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	select {
	case l.queue <- event:
	default:
		l.logger.Warn("conversation log queue full, dropping event",
			"user_id", event.UserID, "session_id", event.SessionID)
	}
}

func (l *fileConversationLogger) drain() {
	defer l.wg.Done()
	for {
		select {
		case event := <-l.queue:
			l.write(event)
		case <-l.done:
			for {
				select {
				case event := <-l.queue:
					l.write(event)
				default:
					return
				}
			}
		}
	}
}

func (l *fileConversationLogger) write(event ConversationLogEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		l.logger.Warn("failed to marshal conversation log event", "error", err)
		return
	}
	line = append(line, '\n')

	sessionPath := filepath.Join(l.cfg.Dir, sanitizePathComponent(event.UserID), sanitizePathComponent(event.SessionID)+".ndjson")
	if err := appendLine(sessionPath, line); err != nil {
		l.logger.Warn("failed to write conversation log", "path", sessionPath, "error", err)
	}

	if l.cfg.GlobalEnabled && l.cfg.GlobalPath != "" {
		if err := appendLine(l.cfg.GlobalPath, line); err != nil {
			l.logger.Warn("failed to write global conversation log", "error", err)
		}
	}
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.Write(line)
	return err
}

// Close flushes queued events and stops the writer goroutine.
func (l *fileConversationLogger) Close() error {
	l.closed.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

var (
	ansiEscapePattern   = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)
	unsafePathComponent = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// cleanForReadability strips ANSI escape sequences and control characters so
// logged content is readable in plain text.
func cleanForReadability(s string) string {
	s = ansiEscapePattern.ReplaceAllString(s, "")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r >= 0x20 {
			return r
		}
		return -1
	}, s)
}

func sanitizePathComponent(s string) string {
	s = unsafePathComponent.ReplaceAllString(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}
