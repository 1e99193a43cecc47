package ports

import "context"

// EventPublisher notifies other instances about session lifecycle changes.
type EventPublisher interface {
	PublishSignedIn(ctx context.Context, address, credentialID string) error
	PublishSignedOut(ctx context.Context, address, credentialID string) error
}
