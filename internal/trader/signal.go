package trader

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"trade-bot-control-plane/internal/models"
)

// Signal is an instruction to trade, e.g. parsed from an alert.
type Signal struct {
	Action   models.Action `json:"action"`
	Symbol   string        `json:"symbol"`
	Quantity float64       `json:"quantity"`
}

// Validate checks the action, symbol and quantity.
func (s Signal) Validate() error {
	if !s.Action.Valid() {
		return fmt.Errorf("invalid action %q: must be buy or sell", s.Action)
	}
	if strings.TrimSpace(s.Symbol) == "" {
		return errors.New("symbol is required")
	}
	if !(s.Quantity > 0) || math.IsInf(s.Quantity, 0) {
		return fmt.Errorf("invalid quantity %v: must be a positive finite number", s.Quantity)
	}
	return nil
}

// Status is the outcome class of a trade request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusInfo    Status = "info"
)

// Result is returned for every trade request. Warning is set when the order
// was placed but follow-up accounting did not complete.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	Warning string `json:"warning,omitempty"`
}

func errorResult(format string, args ...any) Result {
	return Result{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}
