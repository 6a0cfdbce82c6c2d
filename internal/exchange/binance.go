package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"trade-bot-control-plane/internal/config"
	"trade-bot-control-plane/internal/models"
)

const binanceTestnetURL = "https://testnet.binance.vision"

// Binance places spot market orders with the go-binance client.
type Binance struct {
	baseURL    string
	httpClient *http.Client
}

var _ Adapter = (*Binance)(nil)

// NewBinance creates a Binance adapter. An empty base URL selects production,
// or the spot testnet when venue.Testnet is set.
func NewBinance(venue config.Venue) *Binance {
	baseURL := strings.TrimRight(venue.BaseURL, "/")
	if baseURL == "" && venue.Testnet {
		baseURL = binanceTestnetURL
	}
	timeout := time.Duration(venue.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Binance{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

func (b *Binance) Name() string                   { return "binance" }
func (b *Binance) CredentialKind() CredentialKind { return KindStandard }

// PlaceOrder builds a client per call since every bot carries its own keys.
func (b *Binance) PlaceOrder(ctx context.Context, creds Credentials, order Order) (*Ack, error) {
	sc, err := standardCredentials(b.Name(), creds)
	if err != nil {
		return nil, err
	}

	client := binance.NewClient(sc.APIKey, sc.APISecret)
	client.HTTPClient = b.httpClient
	if b.baseURL != "" {
		client.BaseURL = b.baseURL
	}

	side := binance.SideTypeBuy
	if order.Action == models.ActionSell {
		side = binance.SideTypeSell
	}

	res, err := client.NewCreateOrderService().
		Symbol(strings.ToUpper(order.Symbol)).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(order.QuantityString()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	return &Ack{
		Exchange: b.Name(),
		OrderID:  strconv.FormatInt(res.OrderID, 10),
		Status:   string(res.Status),
	}, nil
}
