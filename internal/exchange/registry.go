package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trade-bot-control-plane/internal/models"
)

// Order is a market order request derived from a trade signal.
type Order struct {
	Action   models.Action
	Symbol   string
	Quantity float64
}

// QuantityString renders the quantity as an exact decimal, e.g. 0.001 instead of 1e-03.
func (o Order) QuantityString() string {
	return decimal.NewFromFloat(o.Quantity).String()
}

// Ack is an exchange's acknowledgement of a placed order.
type Ack struct {
	Exchange  string
	OrderID   string
	Status    string
	Simulated bool
}

// Adapter places orders on a single exchange.
type Adapter interface {
	// Name is the lowercase identifier bots refer to.
	Name() string
	CredentialKind() CredentialKind
	PlaceOrder(ctx context.Context, creds Credentials, order Order) (*Ack, error)
}

type entry struct {
	adapter Adapter
	limiter *rate.Limiter
}

// Registry maps normalized exchange names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]entry
	dryRun   bool
	logger   *zap.Logger
}

// NewRegistry creates an empty registry. In dry-run mode credentials are still
// validated but no order reaches the exchange.
func NewRegistry(logger *zap.Logger, dryRun bool) *Registry {
	if dryRun {
		logger.Warn("Dry run enabled. No real orders will be placed.")
	}
	return &Registry{
		adapters: make(map[string]entry),
		dryRun:   dryRun,
		logger:   logger.Named("exchange"),
	}
}

// NormalizeName lowercases and trims an exchange identifier.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds an adapter. A nil limiter means no client-side rate limit.
func (r *Registry) Register(a Adapter, limiter *rate.Limiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[NormalizeName(a.Name())] = entry{adapter: a, limiter: limiter}
}

// Lookup returns the adapter registered under name.
func (r *Registry) Lookup(name string) (Adapter, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.adapter, nil
}

func (r *Registry) lookup(name string) (entry, error) {
	normalized := NormalizeName(name)
	r.mu.RLock()
	e, ok := r.adapters[normalized]
	r.mu.RUnlock()
	if !ok {
		return entry{}, &UnsupportedExchangeError{Exchange: normalized}
	}
	return e, nil
}

// Names lists the registered exchanges in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Place resolves the bot's exchange and credentials and places the order.
// Errors are *UnsupportedExchangeError, *MissingCredentialsError or *AdapterError.
func (r *Registry) Place(ctx context.Context, bot *models.Bot, order Order) (*Ack, error) {
	e, err := r.lookup(bot.Exchange)
	if err != nil {
		return nil, err
	}
	name := e.adapter.Name()

	creds := CredentialsFor(e.adapter.CredentialKind(), bot)
	if err := creds.Validate(name); err != nil {
		return nil, err
	}

	l := r.logger.With(
		zap.String("exchange", name),
		zap.String("bot", bot.Name),
		zap.String("side", string(order.Action)),
		zap.String("symbol", order.Symbol),
		zap.String("quantity", order.QuantityString()),
	)

	if r.dryRun {
		l.Warn("[Dry Run] Simulating order")
		return &Ack{Exchange: name, OrderID: uuid.NewString(), Status: "SIMULATED", Simulated: true}, nil
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, &AdapterError{Exchange: name, Err: fmt.Errorf("rate limiter wait failed: %w", err)}
		}
	}

	start := time.Now()
	ack, err := e.adapter.PlaceOrder(ctx, creds, order)
	if err != nil {
		l.Error("Order placement failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, &AdapterError{Exchange: name, Err: err}
	}
	if ack == nil {
		ack = &Ack{}
	}
	if ack.Exchange == "" {
		ack.Exchange = name
	}
	l.Info("Order placed", zap.String("order_id", ack.OrderID), zap.Duration("elapsed", time.Since(start)))
	return ack, nil
}
