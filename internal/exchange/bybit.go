package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"trade-bot-control-plane/internal/config"
	"trade-bot-control-plane/internal/models"
)

const bybitRecvWindow = "5000"

// Bybit places spot market orders through the v5 REST API.
type Bybit struct {
	rest *restClient
	now  func() time.Time
}

var _ Adapter = (*Bybit)(nil)

// NewBybit creates a Bybit adapter.
func NewBybit(venue config.Venue, logger *zap.Logger) *Bybit {
	return &Bybit{rest: newRestClient("bybit", venue, logger), now: time.Now}
}

func (b *Bybit) Name() string                   { return "bybit" }
func (b *Bybit) CredentialKind() CredentialKind { return KindStandard }

type bybitOrderRequest struct {
	Category  string `json:"category"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	OrderType string `json:"orderType"`
	Qty       string `json:"qty"`
}

type bybitOrderResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	} `json:"result"`
}

// PlaceOrder signs timestamp+apiKey+recvWindow+body with the API secret.
func (b *Bybit) PlaceOrder(ctx context.Context, creds Credentials, order Order) (*Ack, error) {
	sc, err := standardCredentials(b.Name(), creds)
	if err != nil {
		return nil, err
	}

	side := "Buy"
	if order.Action == models.ActionSell {
		side = "Sell"
	}
	payload, err := json.Marshal(bybitOrderRequest{
		Category:  "spot",
		Symbol:    strings.ToUpper(order.Symbol),
		Side:      side,
		OrderType: "Market",
		Qty:       order.QuantityString(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}

	timestamp := strconv.FormatInt(b.now().UnixMilli(), 10)
	signature := signHex(sc.APISecret, timestamp+sc.APIKey+bybitRecvWindow+string(payload))

	req := b.rest.client.R().
		SetHeader("X-BAPI-API-KEY", sc.APIKey).
		SetHeader("X-BAPI-TIMESTAMP", timestamp).
		SetHeader("X-BAPI-RECV-WINDOW", bybitRecvWindow).
		SetHeader("X-BAPI-SIGN", signature).
		SetBody(payload).
		SetResult(&bybitOrderResponse{})

	resp, err := b.rest.doRequest(ctx, http.MethodPost, "/v5/order/create", req)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := resp.Result().(*bybitOrderResponse)
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit rejected order: %d %s", result.RetCode, result.RetMsg)
	}
	return &Ack{Exchange: b.Name(), OrderID: result.Result.OrderID, Status: result.RetMsg}, nil
}
