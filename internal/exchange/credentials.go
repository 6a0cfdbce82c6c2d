package exchange

import (
	"strings"

	"trade-bot-control-plane/internal/models"
)

// CredentialKind identifies which credential shape an exchange expects.
type CredentialKind int

const (
	// KindStandard is an API key and secret pair (binance, bybit, kucoin).
	KindStandard CredentialKind = iota
	// KindAccount is an API token bound to a broker account id (oanda).
	KindAccount
	// KindSession is a terminal login (metatrader5).
	KindSession
)

func (k CredentialKind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindAccount:
		return "account"
	case KindSession:
		return "session"
	default:
		return "unknown"
	}
}

// Credentials is one of StandardCredentials, AccountCredentials or SessionCredentials.
type Credentials interface {
	Kind() CredentialKind
	// Validate returns a *MissingCredentialsError naming every absent field.
	Validate(exchange string) error
	sealed()
}

// StandardCredentials is an API key and secret. Passphrase is only used by KuCoin.
type StandardCredentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

func (StandardCredentials) Kind() CredentialKind { return KindStandard }
func (StandardCredentials) sealed()              {}

func (c StandardCredentials) Validate(exchange string) error {
	return requireFields(exchange, field{"api_key", c.APIKey}, field{"api_secret", c.APISecret})
}

// AccountCredentials is an API token plus the broker account it trades.
type AccountCredentials struct {
	APIKey    string
	AccountID string
}

func (AccountCredentials) Kind() CredentialKind { return KindAccount }
func (AccountCredentials) sealed()              {}

func (c AccountCredentials) Validate(exchange string) error {
	return requireFields(exchange, field{"api_key", c.APIKey}, field{"account_id", c.AccountID})
}

// SessionCredentials is a trading terminal login.
type SessionCredentials struct {
	Login    string
	Password string
	Server   string
}

func (SessionCredentials) Kind() CredentialKind { return KindSession }
func (SessionCredentials) sealed()              {}

func (c SessionCredentials) Validate(exchange string) error {
	return requireFields(exchange, field{"login", c.Login}, field{"password", c.Password}, field{"server", c.Server})
}

// CredentialsFor builds the credential variant of kind from the bot's stored columns.
func CredentialsFor(kind CredentialKind, bot *models.Bot) Credentials {
	switch kind {
	case KindAccount:
		return AccountCredentials{APIKey: bot.APIKey, AccountID: bot.AccountID}
	case KindSession:
		return SessionCredentials{Login: bot.Login, Password: bot.Password, Server: bot.Server}
	default:
		return StandardCredentials{APIKey: bot.APIKey, APISecret: bot.APISecret, Passphrase: bot.Passphrase}
	}
}

type field struct {
	name  string
	value string
}

func requireFields(exchange string, fields ...field) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &MissingCredentialsError{Exchange: exchange, Fields: missing}
	}
	return nil
}
