package exchange

import (
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trade-bot-control-plane/internal/config"
)

// NewRegistryFromConfig registers every supported exchange adapter.
func NewRegistryFromConfig(cfg *config.Config, logger *zap.Logger) *Registry {
	r := NewRegistry(logger, cfg.Trading.DryRun)
	ex := cfg.Exchanges

	r.Register(NewBinance(ex.Binance), newLimiter(ex.Binance))
	r.Register(NewBybit(ex.Bybit, logger), newLimiter(ex.Bybit))
	r.Register(NewKuCoin(ex.KuCoin, logger), newLimiter(ex.KuCoin))
	r.Register(NewOanda(ex.Oanda, logger), newLimiter(ex.Oanda))
	r.Register(NewMetaTrader5(ex.MetaTrader5, logger), newLimiter(ex.MetaTrader5))

	logger.Info("Exchange adapters registered", zap.Strings("exchanges", r.Names()))
	return r
}

// newLimiter returns nil when the venue has no positive rate limit.
func newLimiter(venue config.Venue) *rate.Limiter {
	if venue.RateLimit <= 0 {
		return nil
	}
	burst := venue.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(venue.RateLimit), burst)
}
