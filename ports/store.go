package ports

import (
	"context"
	"time"

	"github.com/quorumdao/gatehouse/core"
)

// CredentialStore is the durable table of outstanding credentials. It is the
// source of truth for "still valid": a structurally valid credential whose
// row has been deleted is revoked. Credentials are immutable once inserted;
// there is deliberately no update operation.
type CredentialStore interface {
	// Insert durably records an issued credential.
	Insert(ctx context.Context, cred *core.Credential) error

	// Exists reports whether a row matches both the token and the address.
	Exists(ctx context.Context, token, address string) (bool, error)

	// Delete removes a credential row. Deleting an absent row is a no-op.
	Delete(ctx context.Context, token string) error

	// DeleteExpired purges rows whose expiry is at or before now and
	// returns the number removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ProfileStore reads and writes the user records that gate sign-in.
type ProfileStore interface {
	// ProfileByAddress returns the profile for a lower-cased address, or
	// core.ErrNotFound.
	ProfileByAddress(ctx context.Context, address string) (*core.Profile, error)

	// SaveProfile creates a profile; core.ErrAlreadyExists if one exists.
	SaveProfile(ctx context.Context, profile *core.Profile) error
}

// NonceStore tracks issued nonces so each can authenticate at most one
// sign-in within its TTL.
type NonceStore interface {
	// Record registers a freshly issued nonce with an expiry.
	Record(ctx context.Context, nonce string, ttl time.Duration) error

	// Consume atomically removes a nonce, reporting whether it was
	// present and unexpired. A second Consume of the same nonce is false.
	Consume(ctx context.Context, nonce string) (bool, error)
}
