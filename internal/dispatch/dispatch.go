// Package dispatch feeds newline-delimited JSON trade signals to the engine
// and writes one JSON result line per signal.
package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"trade-bot-control-plane/internal/models"
	"trade-bot-control-plane/internal/trader"
)

const maxLineSize = 64 * 1024

// BotResolver loads bots by name.
type BotResolver interface {
	GetBot(ctx context.Context, name string) (*models.Bot, error)
}

// Trader executes a signal for a bot.
type Trader interface {
	PlaceTrade(ctx context.Context, bot *models.Bot, sig trader.Signal) trader.Result
}

// Message is one inbound line.
type Message struct {
	Bot string `json:"bot"`
	trader.Signal
}

// Outcome is one outbound line. Line is the 1-based input line number.
type Outcome struct {
	Line int    `json:"line"`
	Bot  string `json:"bot,omitempty"`
	trader.Result
}

type job struct {
	line int
	msg  Message
}

// lanes queues jobs per bot. A bot is present while it has a worker.
type lanes struct {
	mu      sync.Mutex
	pending map[string][]job
}

func newLanes() *lanes {
	return &lanes{pending: make(map[string][]job)}
}

// push queues j and reports whether its bot needs a worker.
func (l *lanes) push(j job) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	q, busy := l.pending[j.msg.Bot]
	l.pending[j.msg.Bot] = append(q, j)
	return !busy
}

// next pops the bot's oldest job. When none is left the bot is removed and
// its worker must exit.
func (l *lanes) next(bot string) (job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.pending[bot]
	if len(q) == 0 {
		delete(l.pending, bot)
		return job{}, false
	}
	j := q[0]
	q[0] = job{}
	l.pending[bot] = q[1:]
	return j, true
}

func (l *lanes) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Dispatcher runs signals with bounded concurrency. Signals for the same bot
// run in input order; different bots run in parallel.
type Dispatcher struct {
	bots           BotResolver
	trader         Trader
	logger         *zap.Logger
	maxConcurrency int64

	mu    sync.Mutex
	cache map[string]*models.Bot
}

// NewDispatcher creates a Dispatcher. maxConcurrency <= 0 means one signal at a time.
func NewDispatcher(bots BotResolver, t Trader, maxConcurrency int, logger *zap.Logger) *Dispatcher {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Dispatcher{
		bots:           bots,
		trader:         t,
		logger:         logger.Named("dispatch"),
		maxConcurrency: int64(maxConcurrency),
		cache:          make(map[string]*models.Bot),
	}
}

// Reload drops cached bots so their next signal reads them from the store.
// With no names every bot is dropped.
func (d *Dispatcher) Reload(names ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(names) == 0 {
		clear(d.cache)
		return
	}
	for _, name := range names {
		delete(d.cache, name)
	}
}

// resolve returns the shared instance of a bot, loading it on first use.
func (d *Dispatcher) resolve(ctx context.Context, name string) (*models.Bot, error) {
	d.mu.Lock()
	bot, ok := d.cache[name]
	d.mu.Unlock()
	if ok {
		return bot, nil
	}

	loaded, err := d.bots.GetBot(ctx, name)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if bot, ok := d.cache[name]; ok {
		return bot, nil
	}
	d.cache[name] = loaded
	return loaded, nil
}

// Run reads signals from r until EOF or ctx is done and writes results to w.
// It returns after every accepted signal has produced a result.
func (d *Dispatcher) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	out := &resultWriter{enc: json.NewEncoder(w), logger: d.logger}
	sem := semaphore.NewWeighted(d.maxConcurrency)
	queued := newLanes()
	var wg sync.WaitGroup

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	line := 0
	for ctx.Err() == nil && scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(text, &msg); err != nil {
			out.write(Outcome{Line: line, Result: trader.Result{Status: trader.StatusError, Message: fmt.Sprintf("Malformed signal: %v", err)}})
			continue
		}
		msg.Bot = strings.TrimSpace(msg.Bot)
		if msg.Bot == "" {
			out.write(Outcome{Line: line, Result: trader.Result{Status: trader.StatusError, Message: "Malformed signal: bot is required"}})
			continue
		}

		if queued.push(job{line: line, msg: msg}) {
			wg.Add(1)
			go func(bot string) {
				defer wg.Done()
				d.drain(ctx, bot, queued, sem, out)
			}(msg.Bot)
		}
	}

	wg.Wait()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read signals: %w", err)
	}
	return ctx.Err()
}

// drain runs the bot's queued jobs in order and returns once its queue is empty.
func (d *Dispatcher) drain(ctx context.Context, bot string, queued *lanes, sem *semaphore.Weighted, out *resultWriter) {
	for {
		j, ok := queued.next(bot)
		if !ok {
			return
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			out.write(Outcome{Line: j.line, Bot: j.msg.Bot, Result: trader.Result{Status: trader.StatusError, Message: fmt.Sprintf("Trade cancelled: %v", err)}})
			continue
		}
		out.write(d.handle(ctx, j))
		sem.Release(1)
	}
}

func (d *Dispatcher) handle(ctx context.Context, j job) Outcome {
	outcome := Outcome{Line: j.line, Bot: j.msg.Bot}

	bot, err := d.resolve(ctx, j.msg.Bot)
	if err != nil {
		d.logger.Warn("Could not resolve bot", zap.String("bot", j.msg.Bot), zap.Error(err))
		outcome.Result = trader.Result{Status: trader.StatusError, Message: fmt.Sprintf("Bot not found: %s", j.msg.Bot)}
		return outcome
	}

	outcome.Result = d.trader.PlaceTrade(ctx, bot, j.msg.Signal)
	return outcome
}

type resultWriter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	logger *zap.Logger
}

func (w *resultWriter) write(o Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(o); err != nil {
		w.logger.Error("Failed to write result", zap.Int("line", o.Line), zap.Error(err))
	}
}
