package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"trade-bot-control-plane/internal/config"
	"trade-bot-control-plane/internal/models"
)

// Oanda places market orders on an OANDA v20 account.
type Oanda struct {
	rest *restClient
}

var _ Adapter = (*Oanda)(nil)

// NewOanda creates an OANDA adapter.
func NewOanda(venue config.Venue, logger *zap.Logger) *Oanda {
	return &Oanda{rest: newRestClient("oanda", venue, logger)}
}

func (o *Oanda) Name() string                   { return "oanda" }
func (o *Oanda) CredentialKind() CredentialKind { return KindAccount }

type oandaMarketOrder struct {
	Type         string `json:"type"`
	Instrument   string `json:"instrument"`
	Units        string `json:"units"`
	TimeInForce  string `json:"timeInForce"`
	PositionFill string `json:"positionFill"`
}

type oandaTransaction struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

type oandaOrderResponse struct {
	OrderCreateTransaction *oandaTransaction `json:"orderCreateTransaction"`
	OrderFillTransaction   *oandaTransaction `json:"orderFillTransaction"`
	OrderCancelTransaction *oandaTransaction `json:"orderCancelTransaction"`
}

// PlaceOrder sends a fill-or-kill market order. Sells are negative units.
func (o *Oanda) PlaceOrder(ctx context.Context, creds Credentials, order Order) (*Ack, error) {
	ac, ok := creds.(AccountCredentials)
	if !ok {
		return nil, fmt.Errorf("oanda expects account credentials, got %s", creds.Kind())
	}

	units := order.QuantityString()
	if order.Action == models.ActionSell {
		units = "-" + units
	}

	req := o.rest.client.R().
		SetAuthToken(ac.APIKey).
		SetBody(map[string]oandaMarketOrder{
			"order": {
				Type:         "MARKET",
				Instrument:   order.Symbol,
				Units:        units,
				TimeInForce:  "FOK",
				PositionFill: "DEFAULT",
			},
		}).
		SetResult(&oandaOrderResponse{})

	path := fmt.Sprintf("/v3/accounts/%s/orders", url.PathEscape(ac.AccountID))
	resp, err := o.rest.doRequest(ctx, http.MethodPost, path, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := resp.Result().(*oandaOrderResponse)
	if result.OrderCancelTransaction != nil {
		return nil, fmt.Errorf("oanda cancelled order: %s", result.OrderCancelTransaction.Reason)
	}
	if result.OrderCreateTransaction == nil {
		return nil, fmt.Errorf("oanda returned no order transaction")
	}

	status := "PENDING"
	if result.OrderFillTransaction != nil {
		status = "FILLED"
	}
	return &Ack{Exchange: o.Name(), OrderID: result.OrderCreateTransaction.ID, Status: status}, nil
}
