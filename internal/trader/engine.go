package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trade-bot-control-plane/internal/accounting"
	"trade-bot-control-plane/internal/botlog"
	"trade-bot-control-plane/internal/exchange"
	"trade-bot-control-plane/internal/logger"
	"trade-bot-control-plane/internal/metrics"
	"trade-bot-control-plane/internal/models"
)

const (
	limitMessage         = "trade limit reached"
	limitReachedWarning  = "Trade limit reached. Please upgrade your subscription for unlimited trades."
	accountingWarningFmt = "Trade successful but trade count not updated: %s"
)

// OrderPlacer sends orders to the bot's exchange.
type OrderPlacer interface {
	Place(ctx context.Context, bot *models.Bot, order exchange.Order) (*exchange.Ack, error)
}

// UsageAccounting enforces and records plan usage.
type UsageAccounting interface {
	EnforceLimitBeforeTrade(ctx context.Context, bot *models.Bot) error
	IncrementAndCheck(ctx context.Context, botName string) (accounting.Increment, error)
	QuotaOwner(ctx context.Context, botName string) (string, error)
}

// BotStore persists bot positions and the trade journal.
type BotStore interface {
	SavePosition(ctx context.Context, botName string, position models.Position) error
	RecordTrade(ctx context.Context, trade *models.Trade) error
}

var (
	_ OrderPlacer     = (*exchange.Registry)(nil)
	_ UsageAccounting = (*accounting.Store)(nil)
	_ BotStore        = (*accounting.Store)(nil)
)

// Engine executes trade signals for bots, one signal per bot at a time.
// Bots whose owner is on a limited plan also run one at a time per owner, so
// the quota check and the count update are not interleaved.
type Engine struct {
	UUID      string
	Name      string
	StartTime time.Time

	logger   *zap.Logger
	orders   OrderPlacer
	accounts UsageAccounting
	store    BotStore
	botLog   botlog.Sink
	metrics  *metrics.Metrics
	dryRun   bool

	bots   *keyedLocks
	owners *keyedLocks
}

// NewEngine creates a trading engine.
func NewEngine(logger *zap.Logger, orders OrderPlacer, accounts UsageAccounting, store BotStore, sink botlog.Sink, m *metrics.Metrics, dryRun bool) *Engine {
	return &Engine{
		UUID:      uuid.NewString(),
		Name:      "trader",
		StartTime: time.Now(),
		logger:    logger.Named("engine"),
		orders:    orders,
		accounts:  accounts,
		store:     store,
		botLog:    sink,
		metrics:   m,
		dryRun:    dryRun,
		bots:      newKeyedLocks(),
		owners:    newKeyedLocks(),
	}
}

// ActiveBots returns the number of bots with a signal in progress.
func (e *Engine) ActiveBots() int {
	return e.bots.len()
}

// DryRun reports whether orders are simulated.
func (e *Engine) DryRun() bool {
	return e.dryRun
}

// PlaceTrade resolves sig against the bot's position, places the resulting
// orders and accounts the trade against the owner's plan. It never panics and
// never returns an error: every failure is reported in the Result.
// bot is mutated in place and must be the same value for every call on a bot.
func (e *Engine) PlaceTrade(ctx context.Context, bot *models.Bot, sig Signal) (res Result) {
	if bot == nil {
		res = errorResult("bot not found")
		e.metrics.TradeOutcome(string(res.Status))
		return res
	}
	l := logger.ForBot(e.logger, bot.Name, bot.Exchange)

	defer func() {
		if r := recover(); r != nil {
			l.Error("Recovered from panic while placing trade", zap.Any("panic", r), zap.Stack("stack"))
			e.botLog.Append(bot.Name, fmt.Sprintf("Error in place_trade: %v", r))
			res = errorResult("internal error: %v", r)
		}
		e.metrics.TradeOutcome(string(res.Status))
	}()

	if err := sig.Validate(); err != nil {
		l.Warn("Rejected invalid signal", zap.Error(err))
		return errorResult("Invalid signal: %v", err)
	}

	release, err := e.bots.acquire(ctx, bot.Name)
	if err != nil {
		return errorResult("Trade cancelled: %v", err)
	}
	defer release()

	return e.placeTrade(ctx, l, bot, sig)
}

func (e *Engine) placeTrade(ctx context.Context, l *zap.Logger, bot *models.Bot, sig Signal) Result {
	l = l.With(zap.String("action", string(sig.Action)), zap.String("symbol", sig.Symbol))
	if bot.Paused {
		l.Info("Bot is paused, ignoring signal")
		e.botLog.Append(bot.Name, "Bot is paused. Ignoring signal.")
		return errorResult("Bot %s is paused", bot.Name)
	}

	owner, err := e.accounts.QuotaOwner(ctx, bot.Name)
	if err != nil {
		l.Warn("Could not resolve quota owner", zap.Error(err))
	}
	if owner != "" {
		release, err := e.owners.acquire(ctx, owner)
		if err != nil {
			return errorResult("Trade cancelled: %v", err)
		}
		defer release()
	}

	if err := e.accounts.EnforceLimitBeforeTrade(ctx, bot); err != nil {
		if !errors.Is(err, accounting.ErrTradeLimitReached) {
			l.Error("Quota check failed", zap.Error(err))
			return errorResult("Quota check failed: %v", err)
		}
		var limitErr *accounting.LimitReachedError
		plan := ""
		if errors.As(err, &limitErr) {
			plan = limitErr.Plan
		}
		e.metrics.QuotaRejected(plan)
		l.Warn("Trade rejected by plan limit", zap.Error(err))
		e.botLog.Append(bot.Name, "Trade limit reached. Bot paused.")
		return errorResult(limitMessage)
	}

	e.botLog.Append(bot.Name, fmt.Sprintf("Attempting trade with exchange: '%s'", exchange.NormalizeName(bot.Exchange)))

	t := Decide(bot.Position, sig.Action)
	switch t.Kind {
	case Noop:
		l.Info("Duplicate signal ignored", zap.String("position", string(bot.Position)))
		e.botLog.Append(bot.Name, fmt.Sprintf("Bot already has an open %s position. Ignoring duplicate signal.", strings.ToUpper(string(sig.Action))))
		return Result{Status: StatusInfo, Message: fmt.Sprintf("Already in %s position for %s", sig.Action, bot.Symbol)}

	case Flip:
		e.botLog.Append(bot.Name, fmt.Sprintf("Signal conflict detected: closing '%s' position to switch to '%s'.", bot.Position, sig.Action))
		closing := exchange.Order{Action: t.Close, Symbol: sig.Symbol, Quantity: sig.Quantity}
		if _, err := e.submit(ctx, l, bot, closing, true); err != nil {
			e.botLog.Append(bot.Name, fmt.Sprintf("Failed to close position: %v", err))
			return errorResult("Failed to close position: %v", err)
		}
		e.setPosition(ctx, l, bot, models.PositionNeutral)
		e.botLog.Append(bot.Name, fmt.Sprintf("Closed %s position for %s (%s)", strings.ToUpper(string(sig.Action.Opposite())), sig.Symbol, closing.QuantityString()))
	}

	opening := exchange.Order{Action: t.Open, Symbol: sig.Symbol, Quantity: sig.Quantity}
	e.botLog.Append(bot.Name, fmt.Sprintf("Placing %s order on %s for %s", sig.Action, exchange.NormalizeName(bot.Exchange), sig.Symbol))
	if _, err := e.submit(ctx, l, bot, opening, false); err != nil {
		msg := openFailureMessage(err)
		e.botLog.Append(bot.Name, msg)
		return errorResult("%s", msg)
	}

	// The order is live; nothing after this point may be abandoned on cancellation.
	ctx = context.WithoutCancel(ctx)

	e.setPosition(ctx, l, bot, models.Position(sig.Action))
	e.botLog.Append(bot.Name, fmt.Sprintf("Order placed successfully: %s %s", strings.ToUpper(string(sig.Action)), sig.Symbol))
	res := Result{Status: StatusSuccess, Message: fmt.Sprintf("Order placed: %s %s", sig.Action, sig.Symbol)}
	res.Warning = e.account(ctx, l, bot)
	return res
}

// submit places one order and journals the acknowledgement.
func (e *Engine) submit(ctx context.Context, l *zap.Logger, bot *models.Bot, order exchange.Order, closing bool) (*exchange.Ack, error) {
	kind := "open"
	if closing {
		kind = "close"
	}
	name := exchange.NormalizeName(bot.Exchange)

	ack, err := e.orders.Place(ctx, bot, order)
	if err != nil {
		e.metrics.OrderFailed(name, kind)
		l.Error("Order failed", zap.String("kind", kind), zap.Error(err))
		return nil, err
	}
	if ack == nil {
		ack = &exchange.Ack{}
	}
	if ack.Exchange != "" {
		name = ack.Exchange
	}
	e.metrics.OrderPlaced(name, string(order.Action), kind)

	trade := &models.Trade{
		BotName:      bot.Name,
		Exchange:     name,
		Symbol:       order.Symbol,
		Side:         string(order.Action),
		Quantity:     order.Quantity,
		OrderID:      ack.OrderID,
		Closing:      closing,
		IsSimulation: ack.Simulated,
		Timestamp:    time.Now().UnixMilli(),
	}
	err = afterAck(l, func() error { return e.store.RecordTrade(context.WithoutCancel(ctx), trade) })
	if err != nil {
		l.Error("Failed to save trade record to database", zap.Error(err))
	}
	return ack, nil
}

// setPosition updates the in-memory position and persists it. A failed write
// is logged; the in-memory value follows the exchange.
func (e *Engine) setPosition(ctx context.Context, l *zap.Logger, bot *models.Bot, position models.Position) {
	bot.Position = position
	err := afterAck(l, func() error { return e.store.SavePosition(context.WithoutCancel(ctx), bot.Name, position) })
	if err != nil {
		l.Error("Failed to persist bot position", zap.String("position", string(position)), zap.Error(err))
	}
}

// account records the executed trade and returns the result warning, if any.
func (e *Engine) account(ctx context.Context, l *zap.Logger, bot *models.Bot) string {
	e.botLog.Append(bot.Name, "Updating trade count...")
	var inc accounting.Increment
	err := afterAck(l, func() (err error) {
		inc, err = e.accounts.IncrementAndCheck(ctx, bot.Name)
		return err
	})
	if err != nil {
		e.metrics.AccountingWarning()
		l.Error("Trade count not updated", zap.Error(err))
		e.botLog.Append(bot.Name, fmt.Sprintf("Error updating trade count: %v", err))
		return fmt.Sprintf(accountingWarningFmt, accountingReason(err))
	}
	e.botLog.Append(bot.Name, fmt.Sprintf("Trade count updated successfully: %d", inc.NewCount))
	if inc.LimitReached {
		e.botLog.Append(bot.Name, fmt.Sprintf("%s plan trade limit has been reached.", inc.Plan))
		return limitReachedWarning
	}
	return ""
}

// afterAck runs a follow-up of an acknowledged order. A panic is returned as
// an error: the order is live and the result must still report it.
func afterAck(l *zap.Logger, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.Error("Recovered from panic after order was placed", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func accountingReason(err error) string {
	switch {
	case errors.Is(err, accounting.ErrUserNotFound):
		return "User not found"
	case errors.Is(err, accounting.ErrUsageRecordMissing):
		return "User record missing"
	case errors.Is(err, accounting.ErrAccountingUpdateFailed):
		return "Database update failed"
	default:
		return err.Error()
	}
}

func openFailureMessage(err error) string {
	var unsupported *exchange.UnsupportedExchangeError
	if errors.As(err, &unsupported) {
		return "Unsupported exchange: " + unsupported.Exchange
	}
	var missing *exchange.MissingCredentialsError
	if errors.As(err, &missing) {
		return fmt.Sprintf("Missing %s credentials", missing.Exchange)
	}
	return fmt.Sprintf("Failed to place order: %v", err)
}
