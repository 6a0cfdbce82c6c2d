package trader

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trade-bot-control-plane/internal/accounting"
	"trade-bot-control-plane/internal/botlog"
	"trade-bot-control-plane/internal/exchange"
	"trade-bot-control-plane/internal/metrics"
	"trade-bot-control-plane/internal/models"
)

// MockOrderPlacer is a mock implementation of the OrderPlacer interface.
type MockOrderPlacer struct {
	mock.Mock
}

func (m *MockOrderPlacer) Place(ctx context.Context, bot *models.Bot, order exchange.Order) (*exchange.Ack, error) {
	args := m.Called(bot.Name, order)
	ack, _ := args.Get(0).(*exchange.Ack)
	return ack, args.Error(1)
}

// MockAccounting is a mock implementation of UsageAccounting and BotStore.
type MockAccounting struct {
	mock.Mock
}

func (m *MockAccounting) EnforceLimitBeforeTrade(ctx context.Context, bot *models.Bot) error {
	args := m.Called(bot)
	return args.Error(0)
}

func (m *MockAccounting) IncrementAndCheck(ctx context.Context, botName string) (accounting.Increment, error) {
	args := m.Called(botName)
	return args.Get(0).(accounting.Increment), args.Error(1)
}

func (m *MockAccounting) QuotaOwner(ctx context.Context, botName string) (string, error) {
	args := m.Called(botName)
	return args.String(0), args.Error(1)
}

func (m *MockAccounting) SavePosition(ctx context.Context, botName string, position models.Position) error {
	args := m.Called(botName, position)
	return args.Error(0)
}

func (m *MockAccounting) RecordTrade(ctx context.Context, trade *models.Trade) error {
	args := m.Called(trade)
	return args.Error(0)
}

type engineFixture struct {
	engine   *Engine
	orders   *MockOrderPlacer
	accounts *MockAccounting
	logs     *botlog.MemorySink
	metrics  *metrics.Metrics
}

func setupEngine(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		orders:   new(MockOrderPlacer),
		accounts: new(MockAccounting),
		logs:     botlog.NewMemorySink(100),
		metrics:  metrics.New(),
	}
	f.engine = NewEngine(zap.NewNop(), f.orders, f.accounts, f.accounts, f.logs, f.metrics, false)
	// Unlimited owner unless a test says otherwise.
	f.accounts.On("QuotaOwner", mock.Anything).Return("", nil).Maybe()
	return f
}

func testBot(position models.Position) *models.Bot {
	return &models.Bot{
		Name:      "alpha",
		Exchange:  "binance",
		Symbol:    "BTCUSD",
		Quantity:  1,
		Position:  position,
		UserEmail: "alice@example.com",
		APIKey:    "key",
		APISecret: "secret",
	}
}

func buy() Signal  { return Signal{Action: models.ActionBuy, Symbol: "BTCUSD", Quantity: 1} }
func sell() Signal { return Signal{Action: models.ActionSell, Symbol: "BTCUSD", Quantity: 1} }

func order(action models.Action) exchange.Order {
	return exchange.Order{Action: action, Symbol: "BTCUSD", Quantity: 1}
}

func ack(id string) *exchange.Ack {
	return &exchange.Ack{Exchange: "binance", OrderID: id, Status: "FILLED"}
}

func TestEngine_PlaceTrade_OpensFromNeutral(t *testing.T) {
	f := setupEngine(t)
	bot := testBot(models.PositionNeutral)

	f.accounts.On("EnforceLimitBeforeTrade", bot).Return(nil)
	f.orders.On("Place", "alpha", order(models.ActionBuy)).Return(ack("1001"), nil).Once()
	f.accounts.On("RecordTrade", mock.MatchedBy(func(tr *models.Trade) bool {
		return tr.OrderID == "1001" && tr.Side == "buy" && !tr.Closing
	})).Return(nil).Once()
	f.accounts.On("SavePosition", "alpha", models.PositionBuy).Return(nil).Once()
	f.accounts.On("IncrementAndCheck", "alpha").
		Return(accounting.Increment{Email: "alice@example.com", Plan: models.PlanPro, NewCount: 3}, nil).Once()

	res := f.engine.PlaceTrade(context.Background(), bot, buy())

	assert.Equal(t, Result{Status: StatusSuccess, Message: "Order placed: buy BTCUSD"}, res)
	assert.Equal(t, models.PositionBuy, bot.Position)
	f.orders.AssertNumberOfCalls(t, "Place", 1)
	f.accounts.AssertNumberOfCalls(t, "IncrementAndCheck", 1)
	f.accounts.AssertExpectations(t)
	assert.Contains(t, f.logs.Messages("alpha"), "Order placed successfully: BUY BTCUSD")
}

func TestEngine_PlaceTrade_FlipsLongToShort(t *testing.T) {
	f := setupEngine(t)
	bot := testBot(models.PositionBuy)

	f.accounts.On("EnforceLimitBeforeTrade", bot).Return(nil)
	f.orders.On("Place", "alpha", order(models.ActionSell)).Return(ack("2001"), nil).Twice()
	f.accounts.On("RecordTrade", mock.Anything).Return(nil).Twice()
	f.accounts.On("SavePosition", "alpha", models.PositionNeutral).Return(nil).Once()
	f.accounts.On("SavePosition", "alpha", models.PositionSell).Return(nil).Once()
	f.accounts.On("IncrementAndCheck", "alpha").Return(accounting.Increment{NewCount: 5}, nil).Once()

	res := f.engine.PlaceTrade(context.Background(), bot, sell())

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "Order placed: sell BTCUSD", res.Message)
	assert.Empty(t, res.Warning)
	assert.Equal(t, models.PositionSell, bot.Position)
	f.orders.AssertNumberOfCalls(t, "Place", 2)
	f.accounts.AssertNumberOfCalls(t, "IncrementAndCheck", 1)

	// The first journaled order is the close.
	var closing []bool
	for _, call := range f.accounts.Calls {
		if call.Method == "RecordTrade" {
			closing = append(closing, call.Arguments.Get(0).(*models.Trade).Closing)
		}
	}
	assert.Equal(t, []bool{true, false}, closing)
}

func TestEngine_PlaceTrade_FlipsShortToLong(t *testing.T) {
	f := setupEngine(t)
	bot := testBot(models.PositionSell)

	f.accounts.On("EnforceLimitBeforeTrade", bot).Return(nil)
	f.orders.On("Place", "alpha", order(models.ActionBuy)).Return(ack("3001"), nil).Twice()
	f.accounts.On("RecordTrade", mock.Anything).Return(nil)
	f.accounts.On("SavePosition", "alpha", mock.Anything).Return(nil)
	f.accounts.On("IncrementAndCheck", "alpha").Return(accounting.Increment{NewCount: 1}, nil).Once()

	res := f.engine.PlaceTrade(context.Background(), bot, buy())

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, models.PositionBuy, bot.Position)
	f.orders.AssertNumberOfCalls(t, "Place", 2)
}

func TestEngine_PlaceTrade_DuplicateDirectionIsNoop(t *testing.T) {
	f := setupEngine(t)
	bot := testBot(models.PositionBuy)
	f.accounts.On("EnforceLimitBeforeTrade", bot).Return(nil)

	res := f.engine.PlaceTrade(context.Background(), bot, buy())

	assert.Equal(t, Result{Status: StatusInfo, Message: "Already in buy position for BTCUSD"}, res)
	assert.Equal(t, models.PositionBuy, bot.Position)
	f.orders.AssertNotCalled(t, "Place", mock.Anything, mock.Anything)
	f.accounts.AssertNotCalled(t, "IncrementAndCheck", mock.Anything)
}

func TestEngine_PlaceTrade_RejectsAtPlanLimit(t *testing.T) {
	f := setupEngine(t)
	bot := testBot(models.PositionNeutral)

	f.accounts.On("EnforceLimitBeforeTrade", bot).
		Run(func(args mock.Arguments) { args.Get(0).(*models.Bot).Paused = true }).
		Return(&accounting.LimitReachedError{Plan: models.PlanFree, TradeLimit: 4, TradeCount: 4})

	res := f.engine.PlaceTrade(context.Background(), bot, buy())

	assert.Equal(t, Result{Status: StatusError, Message: "trade limit reached"}, res)
	assert.True(t, bot.Paused)
	assert.Equal(t, models.PositionNeutral, bot.Position)
	f.orders.AssertNotCalled(t, "Place", mock.Anything, mock.Anything)
	f.accounts.AssertNotCalled(t, "IncrementAndCheck", mock.Anything)

	// Paused bots are rejected before the quota is consulted again.
	res = f.engine.PlaceTrade(context.Background(), bot, buy())
	assert.Equal(t, StatusError, res.Status)
	f.accounts.AssertNumberOfCalls(t, "EnforceLimitBeforeTrade", 1)
}

func TestEngine_PlaceTrade_PausedBot(t *testing.T) {
	f := setupEngine(t)
	bot := testBot(models.PositionNeutral)
	bot.Paused = true

	res := f.engine.PlaceTrade(context.Background(), bot, buy())

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "Bot alpha is paused", res.Message)
	f.accounts.AssertNotCalled(t, "EnforceLimitBeforeTrade", mock.Anything)
	f.orders.AssertNotCalled(t, "Place", mock.Anything, mock.Anything)
}

func TestEngine_PlaceTrade_OpenFailureLeavesStateUntouched(t *testing.T) {
	testCases := []struct {
		name    string
		err     error
		message string
	}{
		{
			name:    "adapter error",
			err:     &exchange.AdapterError{Exchange: "binance", Err: errors.New("insufficient balance")},
			message: "Failed to place order: binance order failed: insufficient balance",
		},
		{
			name:    "unsupported exchange",
			err:     &exchange.UnsupportedExchangeError{Exchange: "ftx"},
			message: "Unsupported exchange: ftx",
		},
		{
			name:    "missing credentials",
			err:     &exchange.MissingCredentialsError{Exchange: "oanda", Fields: []string{"account_id"}},
			message: "Missing oanda credentials",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupEngine(t)
			bot := testBot(models.PositionNeutral)
			f.accounts.On("EnforceLimitBeforeTrade", bot).Return(nil)
			f.orders.On("Place", "alpha", order(models.ActionBuy)).Return(nil, tc.err).Once()

			res := f.engine.PlaceTrade(context.Background(), bot, buy())

			assert.Equal(t, Result{Status: StatusError, Message: tc.message}, res)
			assert.Equal(t, models.PositionNeutral, bot.Position)
			f.accounts.AssertNotCalled(t, "IncrementAndCheck", mock.Anything)
			f.accounts.AssertNotCalled(t, "SavePosition", mock.Anything, mock.Anything)
			f.accounts.AssertNotCalled(t, "RecordTrade", mock.Anything)
		})
	}
}

func TestEngine_PlaceTrade_CloseFailureKeepsPosition(t *testing.T) {
	f := setupEngine(t)
	bot := testBot(models.PositionBuy)
	f.accounts.On("EnforceLimitBeforeTrade", bot).Return(nil)
	f.orders.On("Place", "alpha", order(models.ActionSell)).
		Return(nil, &exchange.AdapterError{Exchange: "binance", Err: errors.New("timeout")}).Once()

	res := f.engine.PlaceTrade(context.Background(), bot, sell())

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "Failed to close position: binance order failed: timeout", res.Message)
	assert.Equal(t, models.PositionBuy, bot.Position)
	f.orders.AssertNumberOfCalls(t, "Place", 1)
	f.accounts.AssertNotCalled(t, "IncrementAndCheck", mock.Anything)
}

func TestEngine_PlaceTrade_OpenFailureAfterClose(t *testing.T) {
	f := setupEngine(t)
	bot := testBot(models.PositionBuy)
	f.accounts.On("EnforceLimitBeforeTrade", bot).Return(nil)
	f.orders.On("Place", "alpha", order(models.ActionSell)).Return(ack("4001"), nil).Once()
	f.orders.On("Place", "alpha", order(models.ActionSell)).
		Return(nil, &exchange.AdapterError{Exchange: "binance", Err: errors.New("rejected")}).Once()
	f.accounts.On("RecordTrade", mock.Anything).Return(nil).Once()
	f.accounts.On("SavePosition", "alpha", models.PositionNeutral).Return(nil).Once()

	res := f.engine.PlaceTrade(context.Background(), bot, sell())

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, models.PositionNeutral, bot.Position)
	f.accounts.AssertNotCalled(t, "IncrementAndCheck", mock.Anything)
	f.accounts.AssertExpectations(t)
}

func TestEngine_PlaceTrade_AccountingFailureIsWarning(t *testing.T) {
	testCases := []struct {
		name    string
		err     error
		warning string
	}{
		{"zero rows", accounting.ErrAccountingUpdateFailed, "Trade successful but trade count not updated: Database update failed"},
		{"owner missing", accounting.ErrUserNotFound, "Trade successful but trade count not updated: User not found"},
		{"usage missing", accounting.ErrUsageRecordMissing, "Trade successful but trade count not updated: User record missing"},
		{"other", errors.New("disk I/O error"), "Trade successful but trade count not updated: disk I/O error"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupEngine(t)
			bot := testBot(models.PositionNeutral)
			f.accounts.On("EnforceLimitBeforeTrade", bot).Return(nil)
			f.orders.On("Place", "alpha", order(models.ActionSell)).Return(ack("5001"), nil).Once()
			f.accounts.On("RecordTrade", mock.Anything).Return(nil)
			f.accounts.On("SavePosition", "alpha", models.PositionSell).Return(nil)
			f.accounts.On("IncrementAndCheck", "alpha").Return(accounting.Increment{}, tc.err).Once()

			res := f.engine.PlaceTrade(context.Background(), bot, sell())

			assert.Equal(t, StatusSuccess, res.Status)
			assert.Equal(t, tc.warning, res.Warning)
			assert.Equal(t, models.PositionSell, bot.Position)
		})
	}
}

func TestEngine_PlaceTrade_AccountingPanicIsWarning(t *testing.T) {
	f := setupEngine(t)
	bot := testBot(models.PositionNeutral)
	f.accounts.On("EnforceLimitBeforeTrade", bot).Return(nil)
	f.orders.On("Place", "alpha", order(models.ActionBuy)).Return(ack("8001"), nil).Once()
	f.accounts.On("RecordTrade", mock.Anything).Return(nil)
	f.accounts.On("SavePosition", "alpha", models.PositionBuy).Return(nil)
	f.accounts.On("IncrementAndCheck", "alpha").Run(func(mock.Arguments) {
		panic("db driver exploded")
	})

	var res Result
	require.NotPanics(t, func() {
		res = f.engine.PlaceTrade(context.Background(), bot, buy())
	})

	assert.Equal(t, Result{
		Status:  StatusSuccess,
		Message: "Order placed: buy BTCUSD",
		Warning: "Trade successful but trade count not updated: panic: db driver exploded",
	}, res)
	assert.Equal(t, models.PositionBuy, bot.Position)
	f.orders.AssertNumberOfCalls(t, "Place", 1)
}

func TestEngine_PlaceTrade_JournalPanicKeepsSuccess(t *testing.T) {
	f := setupEngine(t)
	bot := testBot(models.PositionNeutral)
	f.accounts.On("EnforceLimitBeforeTrade", bot).Return(nil)
	f.orders.On("Place", "alpha", order(models.ActionBuy)).Return(ack("8002"), nil).Once()
	f.accounts.On("RecordTrade", mock.Anything).Run(func(mock.Arguments) {
		panic("journal exploded")
	})
	f.accounts.On("SavePosition", "alpha", models.PositionBuy).Return(nil)
	f.accounts.On("IncrementAndCheck", "alpha").Return(accounting.Increment{NewCount: 1}, nil).Once()

	res := f.engine.PlaceTrade(context.Background(), bot, buy())

	assert.Equal(t, Result{Status: StatusSuccess, Message: "Order placed: buy BTCUSD"}, res)
	assert.Equal(t, models.PositionBuy, bot.Position)
	f.accounts.AssertNumberOfCalls(t, "IncrementAndCheck", 1)
}

func TestEngine_PlaceTrade_WarnsWhenLimitReached(t *testing.T) {
	f := setupEngine(t)
	bot := testBot(models.PositionNeutral)
	f.accounts.On("EnforceLimitBeforeTrade", bot).Return(nil)
	f.orders.On("Place", "alpha", order(models.ActionBuy)).Return(ack("6001"), nil)
	f.accounts.On("RecordTrade", mock.Anything).Return(nil)
	f.accounts.On("SavePosition", "alpha", models.PositionBuy).Return(nil)
	f.accounts.On("IncrementAndCheck", "alpha").
		Return(accounting.Increment{Plan: models.PlanFree, NewCount: 4, LimitReached: true}, nil)

	res := f.engine.PlaceTrade(context.Background(), bot, buy())

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "Trade limit reached. Please upgrade your subscription for unlimited trades.", res.Warning)
}

func TestEngine_PlaceTrade_PersistenceFailuresDoNotFailTrade(t *testing.T) {
	f := setupEngine(t)
	bot := testBot(models.PositionNeutral)
	f.accounts.On("EnforceLimitBeforeTrade", bot).Return(nil)
	f.orders.On("Place", "alpha", order(models.ActionBuy)).Return(ack("7001"), nil)
	f.accounts.On("RecordTrade", mock.Anything).Return(errors.New("database is locked"))
	f.accounts.On("SavePosition", "alpha", models.PositionBuy).Return(errors.New("database is locked"))
	f.accounts.On("IncrementAndCheck", "alpha").Return(accounting.Increment{NewCount: 1}, nil)

	res := f.engine.PlaceTrade(context.Background(), bot, buy())

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, res.Warning)
	assert.Equal(t, models.PositionBuy, bot.Position)
}

func TestEngine_PlaceTrade_InvalidSignal(t *testing.T) {
	f := setupEngine(t)
	bot := testBot(models.PositionNeutral)

	res := f.engine.PlaceTrade(context.Background(), bot, Signal{Action: "hold", Symbol: "BTCUSD", Quantity: 1})

	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "Invalid signal")
	f.accounts.AssertNotCalled(t, "EnforceLimitBeforeTrade", mock.Anything)

	res = f.engine.PlaceTrade(context.Background(), bot, Signal{Action: models.ActionBuy, Symbol: "BTCUSD", Quantity: math.Inf(1)})
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "Invalid signal")
	f.orders.AssertNotCalled(t, "Place", mock.Anything, mock.Anything)
}

func TestEngine_PlaceTrade_NilBot(t *testing.T) {
	f := setupEngine(t)
	res := f.engine.PlaceTrade(context.Background(), nil, buy())
	assert.Equal(t, StatusError, res.Status)
}

func TestEngine_PlaceTrade_RecoversFromPanic(t *testing.T) {
	f := setupEngine(t)
	bot := testBot(models.PositionNeutral)
	f.accounts.On("EnforceLimitBeforeTrade", bot).Return(nil)
	f.orders.On("Place", "alpha", order(models.ActionBuy)).Run(func(mock.Arguments) {
		panic("adapter exploded")
	})

	var res Result
	require.NotPanics(t, func() {
		res = f.engine.PlaceTrade(context.Background(), bot, buy())
	})
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "adapter exploded")
	assert.Equal(t, models.PositionNeutral, bot.Position)

	// The bot lock is released after a panic.
	f.orders.ExpectedCalls = nil
	f.orders.On("Place", "alpha", order(models.ActionBuy)).Return(nil, errors.New("down"))
	res = f.engine.PlaceTrade(context.Background(), bot, buy())
	assert.Equal(t, "Failed to place order: down", res.Message)
}

func TestEngine_PlaceTrade_CancelledWhileWaitingForLock(t *testing.T) {
	f := setupEngine(t)
	bot := testBot(models.PositionNeutral)

	release, err := f.engine.bots.acquire(context.Background(), "alpha")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.engine.PlaceTrade(ctx, bot, buy())
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "Trade cancelled")
	f.accounts.AssertNotCalled(t, "EnforceLimitBeforeTrade", mock.Anything)
}

func TestEngine_PlaceTrade_CancelledWhileWaitingForOwner(t *testing.T) {
	f := setupEngine(t)
	f.accounts.ExpectedCalls = nil
	f.accounts.On("QuotaOwner", "alpha").Return("alice@example.com", nil)
	bot := testBot(models.PositionNeutral)

	release, err := f.engine.owners.acquire(context.Background(), "alice@example.com")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := f.engine.PlaceTrade(ctx, bot, buy())
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "Trade cancelled")
	f.accounts.AssertNotCalled(t, "EnforceLimitBeforeTrade", mock.Anything)
	assert.Equal(t, 0, f.engine.ActiveBots())
}

func TestEngine_ForgetsIdleBotLocks(t *testing.T) {
	f := setupEngine(t)
	for _, name := range []string{"alpha", "beta", "gamma"} {
		bot := testBot(models.PositionBuy)
		bot.Name = name
		f.accounts.On("EnforceLimitBeforeTrade", bot).Return(nil)
		res := f.engine.PlaceTrade(context.Background(), bot, buy())
		assert.Equal(t, StatusInfo, res.Status)
	}
	assert.Equal(t, 0, f.engine.ActiveBots())
	assert.Equal(t, 0, f.engine.owners.len())
}
