// Package client is the application-side runtime of wallet authentication:
// a TTL-bounded session cache, a thin HTTP client for the auth endpoints,
// and the state machine that reconciles wallet events with session state.
package client

import "context"

// WalletEventType classifies connector events.
type WalletEventType string

const (
	// EventConnected fires when the wallet reports a connected address.
	EventConnected WalletEventType = "connected"

	// EventDisconnected fires when the wallet disconnects.
	EventDisconnected WalletEventType = "disconnected"

	// EventAddressChanged fires when the connected address switches to a
	// different one without disconnecting first.
	EventAddressChanged WalletEventType = "address_changed"
)

// WalletEvent is a single notification from the wallet connector.
type WalletEvent struct {
	Type    WalletEventType
	Address string
	ChainID uint64
}

// WalletConnector is the narrow interface to the external wallet-connection
// library: it supplies the connected identity and a message-signing
// capability, and streams connect/disconnect/switch events.
type WalletConnector interface {
	// Address returns the currently connected address, or "" when
	// disconnected.
	Address() string

	// ChainID returns the chain of the current connection.
	ChainID() uint64

	// SignMessage asks the wallet to sign message and returns the hex
	// signature.
	SignMessage(ctx context.Context, message string) (string, error)

	// Events streams wallet notifications until the connector closes.
	Events() <-chan WalletEvent

	// PurgeState drops all connector-owned local state. Called on
	// identity teardown so no stale address survives an account switch.
	PurgeState()
}
