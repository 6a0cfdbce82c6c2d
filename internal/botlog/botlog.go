// Package botlog records per-bot activity lines. Appends are fire-and-forget:
// a sink never blocks or fails the trade path.
package botlog

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trade-bot-control-plane/internal/models"
)

// Sink receives log lines keyed by bot name.
type Sink interface {
	Append(botName, message string)
}

// ZapSink writes lines to a zap logger with the bot name as a field.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("botlog")}
}

func (s *ZapSink) Append(botName, message string) {
	s.logger.Info(message, zap.String("bot", botName))
}

// DBSink persists lines as BotLog rows from a background worker.
// When the buffer is full the line is dropped with a warning.
type DBSink struct {
	db      *gorm.DB
	logger  *zap.Logger
	entries chan models.BotLog
	done    chan struct{}
	once    sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewDBSink starts the writer goroutine. Call Close to flush and stop it.
func NewDBSink(db *gorm.DB, bufferSize int, logger *zap.Logger) *DBSink {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	s := &DBSink{
		db:      db,
		logger:  logger.Named("botlog-db"),
		entries: make(chan models.BotLog, bufferSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *DBSink) Append(botName, message string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.entries <- models.BotLog{BotName: botName, Message: message, CreatedAt: time.Now()}:
	default:
		s.logger.Warn("Bot log buffer full, dropping line", zap.String("bot", botName))
	}
}

func (s *DBSink) run() {
	defer close(s.done)
	for entry := range s.entries {
		if err := s.db.Create(&entry).Error; err != nil {
			s.logger.Error("Failed to persist bot log line", zap.String("bot", entry.BotName), zap.Error(err))
		}
	}
}

// Close stops accepting lines and waits until buffered lines are written.
func (s *DBSink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.entries)
		s.mu.Unlock()
	})
	<-s.done
}

// Entry is a line held by a MemorySink.
type Entry struct {
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// MemorySink keeps the most recent lines of each bot in a bounded ring.
type MemorySink struct {
	mu    sync.Mutex
	size  int
	lines map[string][]Entry
}

func NewMemorySink(size int) *MemorySink {
	if size <= 0 {
		size = 1
	}
	return &MemorySink{size: size, lines: make(map[string][]Entry)}
}

func (s *MemorySink) Append(botName, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := append(s.lines[botName], Entry{Message: message, Time: time.Now()})
	if len(lines) > s.size {
		lines = lines[len(lines)-s.size:]
	}
	s.lines[botName] = lines
}

// Tail returns up to n of the newest lines of botName, oldest first.
// n <= 0 returns everything held.
func (s *MemorySink) Tail(botName string, n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.lines[botName]
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]Entry, len(lines))
	copy(out, lines)
	return out
}

// Messages returns the messages held for botName, oldest first.
func (s *MemorySink) Messages(botName string) []string {
	tail := s.Tail(botName, 0)
	out := make([]string, len(tail))
	for i, e := range tail {
		out[i] = e.Message
	}
	return out
}

// Multi fans a line out to several sinks.
type Multi []Sink

func (m Multi) Append(botName, message string) {
	for _, s := range m {
		s.Append(botName, message)
	}
}

var (
	_ Sink = (*ZapSink)(nil)
	_ Sink = (*DBSink)(nil)
	_ Sink = (*MemorySink)(nil)
	_ Sink = Multi(nil)
)
