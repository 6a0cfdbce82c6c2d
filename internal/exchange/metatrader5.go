package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"trade-bot-control-plane/internal/config"
)

// MetaTrader5 places orders through an HTTP gateway sitting next to the
// MetaTrader 5 terminal. The gateway logs into the terminal with the bot's
// session credentials for each request.
type MetaTrader5 struct {
	rest *restClient
}

var _ Adapter = (*MetaTrader5)(nil)

// NewMetaTrader5 creates a MetaTrader 5 gateway adapter.
func NewMetaTrader5(venue config.Venue, logger *zap.Logger) *MetaTrader5 {
	return &MetaTrader5{rest: newRestClient("metatrader5", venue, logger)}
}

func (m *MetaTrader5) Name() string                   { return "metatrader5" }
func (m *MetaTrader5) CredentialKind() CredentialKind { return KindSession }

type mt5OrderRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Server   string `json:"server"`
	Symbol   string `json:"symbol"`
	Action   string `json:"action"`
	Volume   string `json:"volume"`
}

type mt5OrderResponse struct {
	OK      bool   `json:"ok"`
	Order   int64  `json:"order"`
	Retcode int    `json:"retcode"`
	Comment string `json:"comment"`
}

func (m *MetaTrader5) PlaceOrder(ctx context.Context, creds Credentials, order Order) (*Ack, error) {
	sc, ok := creds.(SessionCredentials)
	if !ok {
		return nil, fmt.Errorf("metatrader5 expects session credentials, got %s", creds.Kind())
	}

	req := m.rest.client.R().
		SetBody(mt5OrderRequest{
			Login:    sc.Login,
			Password: sc.Password,
			Server:   sc.Server,
			Symbol:   order.Symbol,
			Action:   string(order.Action),
			Volume:   order.QuantityString(),
		}).
		SetResult(&mt5OrderResponse{})

	resp, err := m.rest.doRequest(ctx, http.MethodPost, "/order", req)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := resp.Result().(*mt5OrderResponse)
	if !result.OK {
		return nil, fmt.Errorf("terminal rejected order: retcode %d %s", result.Retcode, result.Comment)
	}
	return &Ack{Exchange: m.Name(), OrderID: strconv.FormatInt(result.Order, 10), Status: strconv.Itoa(result.Retcode)}, nil
}
