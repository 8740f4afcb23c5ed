package alert

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wudi/bastion/internal/config"
	"github.com/wudi/bastion/internal/logging"
)

// AuditFileSink appends events to a rotating JSON-lines file. Writes
// are serialized; lumberjack handles rotation.
type AuditFileSink struct {
	mu     sync.Mutex
	out    *lumberjack.Logger
	closed bool
}

// NewAuditFileSink opens (or creates) the audit file at cfg.Path.
func NewAuditFileSink(cfg config.AuditFileConfig) *AuditFileSink {
	maxSize := cfg.Rotation.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &AuditFileSink{
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    maxSize,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAge:     cfg.Rotation.MaxAgeDays,
			Compress:   true,
		},
	}
}

// Publish writes one JSON line. Marshal failures are logged and
// swallowed; the audit trail is best-effort.
func (s *AuditFileSink) Publish(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logging.Error("audit event marshal failed", zap.Error(err))
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, err := s.out.Write(data); err != nil {
		logging.Error("audit event write failed", zap.Error(err))
	}
}

// Close flushes and closes the underlying file.
func (s *AuditFileSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.out.Close()
}
