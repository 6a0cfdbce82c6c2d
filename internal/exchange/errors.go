package exchange

import (
	"fmt"
	"strings"
)

// UnsupportedExchangeError is returned when no adapter is registered under a name.
type UnsupportedExchangeError struct {
	Exchange string
}

func (e *UnsupportedExchangeError) Error() string {
	return fmt.Sprintf("unsupported exchange: %s", e.Exchange)
}

// MissingCredentialsError is returned when a bot lacks a credential its exchange requires.
type MissingCredentialsError struct {
	Exchange string
	Fields   []string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("missing credentials for %s: %s", e.Exchange, strings.Join(e.Fields, ", "))
}

// AdapterError wraps a network fault or an exchange-side rejection.
type AdapterError struct {
	Exchange string
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s order failed: %v", e.Exchange, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}
