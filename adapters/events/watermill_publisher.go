package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/quorumdao/gatehouse/ports"
)

const (
	// EventSignedIn is emitted when a credential is issued.
	EventSignedIn = "session.signed_in"

	// EventSignedOut is emitted when a credential is revoked.
	EventSignedOut = "session.signed_out"
)

// SessionEvent is the payload published for session lifecycle changes.
type SessionEvent struct {
	Type         string    `json:"type"`
	Address      string    `json:"address"`
	CredentialID string    `json:"credential_id"`
	At           time.Time `json:"at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill publisher.
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     "gatehouse.sessions",
	}
}

// PublishSignedIn publishes a signed-in event.
func (p *WatermillPublisher) PublishSignedIn(ctx context.Context, address, credentialID string) error {
	return p.publish(EventSignedIn, address, credentialID)
}

// PublishSignedOut publishes a signed-out event.
func (p *WatermillPublisher) PublishSignedOut(ctx context.Context, address, credentialID string) error {
	return p.publish(EventSignedOut, address, credentialID)
}

func (p *WatermillPublisher) publish(eventType, address, credentialID string) error {
	event := SessionEvent{
		Type:         eventType,
		Address:      address,
		CredentialID: credentialID,
		At:           time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(credentialID, payload)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
