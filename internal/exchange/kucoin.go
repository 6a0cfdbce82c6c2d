package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trade-bot-control-plane/internal/config"
)

const (
	kucoinOrderPath  = "/api/v1/orders"
	kucoinSuccessful = "200000"
)

// KuCoin places spot market orders through the v1 REST API.
type KuCoin struct {
	rest *restClient
	now  func() time.Time
}

var _ Adapter = (*KuCoin)(nil)

// NewKuCoin creates a KuCoin adapter.
func NewKuCoin(venue config.Venue, logger *zap.Logger) *KuCoin {
	return &KuCoin{rest: newRestClient("kucoin", venue, logger), now: time.Now}
}

func (k *KuCoin) Name() string                   { return "kucoin" }
func (k *KuCoin) CredentialKind() CredentialKind { return KindStandard }

type kucoinOrderRequest struct {
	ClientOid string `json:"clientOid"`
	Side      string `json:"side"`
	Symbol    string `json:"symbol"`
	Type      string `json:"type"`
	Size      string `json:"size"`
}

type kucoinOrderResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		OrderID string `json:"orderId"`
	} `json:"data"`
}

// PlaceOrder signs timestamp+method+path+body, base64 encoded. The passphrase is
// optional in the bot record and sent signed (key version 2) when present.
func (k *KuCoin) PlaceOrder(ctx context.Context, creds Credentials, order Order) (*Ack, error) {
	sc, err := standardCredentials(k.Name(), creds)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(kucoinOrderRequest{
		ClientOid: uuid.NewString(),
		Side:      string(order.Action),
		Symbol:    strings.ToUpper(order.Symbol),
		Type:      "market",
		Size:      order.QuantityString(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}

	timestamp := strconv.FormatInt(k.now().UnixMilli(), 10)
	req := k.rest.client.R().
		SetHeader("KC-API-KEY", sc.APIKey).
		SetHeader("KC-API-TIMESTAMP", timestamp).
		SetHeader("KC-API-SIGN", signBase64(sc.APISecret, timestamp+http.MethodPost+kucoinOrderPath+string(payload))).
		SetBody(payload).
		SetResult(&kucoinOrderResponse{})
	if sc.Passphrase != "" {
		req.SetHeader("KC-API-PASSPHRASE", signBase64(sc.APISecret, sc.Passphrase)).
			SetHeader("KC-API-KEY-VERSION", "2")
	}

	resp, err := k.rest.doRequest(ctx, http.MethodPost, kucoinOrderPath, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := resp.Result().(*kucoinOrderResponse)
	if result.Code != kucoinSuccessful {
		return nil, fmt.Errorf("kucoin rejected order: %s %s", result.Code, result.Msg)
	}
	return &Ack{Exchange: k.Name(), OrderID: result.Data.OrderID, Status: result.Code}, nil
}
