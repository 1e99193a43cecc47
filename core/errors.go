package core

import "errors"

var (
	// ErrInvalidInput is returned for malformed addresses, nonces or
	// challenge messages. Rejected at the boundary, never reaches a store.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidSignature is returned when signature recovery fails or the
	// recovered signer does not match the claimed address.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidNonce is returned when a sign-in presents an unknown,
	// expired or already-consumed nonce.
	ErrInvalidNonce = errors.New("invalid nonce")

	// ErrCredentialExpired is returned when a credential's own expiry claim
	// is in the past.
	ErrCredentialExpired = errors.New("credential has expired")

	// ErrCredentialInvalid is returned when a credential is structurally
	// invalid (forged, truncated, wrong audience or issuer).
	ErrCredentialInvalid = errors.New("invalid credential")

	// ErrCredentialRevoked is returned when a structurally valid credential
	// has no matching row in the credential store.
	ErrCredentialRevoked = errors.New("credential has been revoked")

	// ErrCredentialMissing is returned when a protected request carries no
	// bearer credential at all.
	ErrCredentialMissing = errors.New("credential is missing")

	// ErrProfileRequired is returned when a verified wallet has no profile
	// yet. Routed to the setup flow, not a hard failure.
	ErrProfileRequired = errors.New("profile required")

	// ErrPersistence is returned when a store write fails. Issuance must
	// abort rather than hand out an unrecorded credential.
	ErrPersistence = errors.New("store operation failed")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned on a uniqueness violation.
	ErrAlreadyExists = errors.New("already exists")
)

// IsUnauthenticated reports whether err belongs to the class of failures a
// protected endpoint answers with 401. These are terminal and never retried.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrCredentialMissing) ||
		errors.Is(err, ErrCredentialExpired) ||
		errors.Is(err, ErrCredentialInvalid) ||
		errors.Is(err, ErrCredentialRevoked) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrInvalidNonce)
}
