package accounting

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trade-bot-control-plane/internal/models"
)

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrUsageRecordMissing     = errors.New("user record missing")
	ErrAccountingUpdateFailed = errors.New("database update failed")
	ErrTradeLimitReached      = errors.New("trade limit reached")
	ErrBotNotFound            = errors.New("bot not found")
)

// LimitReachedError is returned when a plan's trade quota is used up.
// It matches ErrTradeLimitReached with errors.Is.
type LimitReachedError struct {
	Plan       string
	TradeLimit int
	TradeCount int
}

func (e *LimitReachedError) Error() string {
	return fmt.Sprintf("%s: %s plan allows %d trades, %d used", ErrTradeLimitReached, e.Plan, e.TradeLimit, e.TradeCount)
}

func (e *LimitReachedError) Unwrap() error {
	return ErrTradeLimitReached
}

// Usage is a user's plan and the number of trades executed so far.
type Usage struct {
	Email      string
	Plan       string
	TradeCount int
}

// Increment is the outcome of accounting one executed trade.
type Increment struct {
	Email        string
	Plan         string
	NewCount     int
	LimitReached bool
}

// Store persists users, bots and the trade journal.
type Store struct {
	db     *gorm.DB
	plans  Plans
	logger *zap.Logger
}

// NewStore creates a Store over an open connection pool.
func NewStore(db *gorm.DB, plans Plans, logger *zap.Logger) *Store {
	if plans == nil {
		plans = DefaultPlans()
	}
	return &Store{db: db, plans: plans, logger: logger.Named("accounting")}
}

// Plans returns the plan table used for quota checks.
func (s *Store) Plans() Plans {
	return s.plans
}

// LookupBotOwner returns the email of the user owning botName.
func (s *Store) LookupBotOwner(ctx context.Context, botName string) (string, error) {
	var bot models.Bot
	err := s.db.WithContext(ctx).Select("user_email").Where("name = ?", botName).First(&bot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: no bot named %q", ErrUserNotFound, botName)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up owner of bot %q: %w", botName, err)
	}
	if bot.UserEmail == "" {
		return "", fmt.Errorf("%w: bot %q has no owner", ErrUserNotFound, botName)
	}
	return bot.UserEmail, nil
}

// GetUsage reads the plan and trade count of the user with email.
func (s *Store) GetUsage(ctx context.Context, email string) (Usage, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Usage{}, fmt.Errorf("%w: %s", ErrUsageRecordMissing, email)
	}
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read usage of %s: %w", email, err)
	}
	return Usage{Email: user.Email, Plan: user.SubscriptionPlan, TradeCount: user.TradeCount}, nil
}

// IncrementTradeCount adds one trade to the user's count in a single transaction
// and returns the new count. It is never retried.
func (s *Store) IncrementTradeCount(ctx context.Context, email string) (int, error) {
	var newCount int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("email = ?", email).
			UpdateColumn("trade_count", gorm.Expr("trade_count + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAccountingUpdateFailed
		}

		var user models.User
		if err := tx.Select("trade_count").Where("email = ?", email).First(&user).Error; err != nil {
			return err
		}
		newCount = user.TradeCount
		return nil
	})
	if errors.Is(err, ErrAccountingUpdateFailed) {
		return 0, fmt.Errorf("%w: no rows updated for %s", ErrAccountingUpdateFailed, email)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAccountingUpdateFailed, err)
	}
	return newCount, nil
}

// IncrementAndCheck accounts one executed trade of botName against its owner and
// reports whether the owner's plan limit is now reached.
func (s *Store) IncrementAndCheck(ctx context.Context, botName string) (Increment, error) {
	email, err := s.LookupBotOwner(ctx, botName)
	if err != nil {
		return Increment{}, err
	}
	usage, err := s.GetUsage(ctx, email)
	if err != nil {
		return Increment{}, err
	}

	newCount, err := s.IncrementTradeCount(ctx, email)
	if err != nil {
		return Increment{}, err
	}

	plan := s.plans.For(usage.Plan)
	inc := Increment{
		Email:        email,
		Plan:         plan.Name,
		NewCount:     newCount,
		LimitReached: plan.Limited() && newCount >= plan.TradeLimit,
	}
	s.logger.Info("Trade count updated",
		zap.String("bot", botName),
		zap.String("user", email),
		zap.String("plan", plan.Name),
		zap.Int("trade_count", newCount),
	)
	return inc, nil
}

// QuotaOwner returns the owner of botName when the owner's plan has a trade
// limit, and "" when it is unlimited.
func (s *Store) QuotaOwner(ctx context.Context, botName string) (string, error) {
	email, err := s.LookupBotOwner(ctx, botName)
	if err != nil {
		return "", err
	}
	usage, err := s.GetUsage(ctx, email)
	if err != nil {
		return "", err
	}
	if !s.plans.For(usage.Plan).Limited() {
		return "", nil
	}
	return email, nil
}

// EnforceLimitBeforeTrade rejects the trade with a *LimitReachedError when the
// owner's plan quota is used up, pausing the bot durably and in memory.
// Lookup failures are logged and the trade is allowed.
func (s *Store) EnforceLimitBeforeTrade(ctx context.Context, bot *models.Bot) error {
	l := s.logger.With(zap.String("bot", bot.Name))

	email, err := s.LookupBotOwner(ctx, bot.Name)
	if err != nil {
		l.Warn("Skipping quota pre-check", zap.Error(err))
		return nil
	}
	usage, err := s.GetUsage(ctx, email)
	if err != nil {
		l.Warn("Skipping quota pre-check", zap.Error(err))
		return nil
	}

	plan := s.plans.For(usage.Plan)
	if !plan.Limited() || usage.TradeCount < plan.TradeLimit {
		return nil
	}

	l.Warn("Trade limit reached, pausing bot",
		zap.String("user", email),
		zap.String("plan", plan.Name),
		zap.Int("trade_count", usage.TradeCount),
		zap.Int("trade_limit", plan.TradeLimit),
	)
	if err := s.SetBotPaused(ctx, bot.Name, true); err != nil {
		l.Error("Failed to persist paused flag", zap.Error(err))
	}
	bot.Paused = true
	return &LimitReachedError{Plan: plan.Name, TradeLimit: plan.TradeLimit, TradeCount: usage.TradeCount}
}

// SetBotPaused sets the paused flag of botName.
func (s *Store) SetBotPaused(ctx context.Context, botName string, paused bool) error {
	return s.updateBot(ctx, botName, "paused", paused)
}

// SavePosition persists the position of botName.
func (s *Store) SavePosition(ctx context.Context, botName string, position models.Position) error {
	return s.updateBot(ctx, botName, "position", position)
}

func (s *Store) updateBot(ctx context.Context, botName, column string, value any) error {
	res := s.db.WithContext(ctx).Model(&models.Bot{}).Where("name = ?", botName).Update(column, value)
	if res.Error != nil {
		return fmt.Errorf("failed to update %s of bot %q: %w", column, botName, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %q", ErrBotNotFound, botName)
	}
	return nil
}

// GetBot loads a bot by name.
func (s *Store) GetBot(ctx context.Context, name string) (*models.Bot, error) {
	var bot models.Bot
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&bot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrBotNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bot %q: %w", name, err)
	}
	return &bot, nil
}

// RecordTrade appends an acknowledged order to the trade journal.
func (s *Store) RecordTrade(ctx context.Context, trade *models.Trade) error {
	if err := s.db.WithContext(ctx).Create(trade).Error; err != nil {
		return fmt.Errorf("failed to save trade record: %w", err)
	}
	return nil
}
