package accounting

import (
	"trade-bot-control-plane/internal/config"
	"trade-bot-control-plane/internal/models"
)

// Unlimited marks a plan without a trade quota.
const Unlimited = -1

// Plan is a subscription tier and its trade quota.
type Plan struct {
	Name       string
	TradeLimit int
}

// Limited reports whether the plan caps the number of trades.
func (p Plan) Limited() bool {
	return p.TradeLimit >= 0
}

// Plans indexes plans by name.
type Plans map[string]Plan

// DefaultPlans returns the built-in tiers.
func DefaultPlans() Plans {
	return Plans{
		models.PlanFree:       {Name: models.PlanFree, TradeLimit: 4},
		models.PlanPro:        {Name: models.PlanPro, TradeLimit: Unlimited},
		models.PlanEnterprise: {Name: models.PlanEnterprise, TradeLimit: Unlimited},
	}
}

// PlansFromConfig overlays configured limits on the defaults.
func PlansFromConfig(cfg map[string]config.Plan) Plans {
	plans := DefaultPlans()
	for name, p := range cfg {
		plans[name] = Plan{Name: name, TradeLimit: p.TradeLimit}
	}
	return plans
}

// For returns the plan called name. An empty name is the free plan and an
// unknown name is treated as unlimited.
func (p Plans) For(name string) Plan {
	if name == "" {
		name = models.PlanFree
	}
	if plan, ok := p[name]; ok {
		return plan
	}
	return Plan{Name: name, TradeLimit: Unlimited}
}
