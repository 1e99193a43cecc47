// Package eth holds the Ethereum-specific pieces of wallet authentication:
// address validation, the challenge message template, and EIP-191
// personal_sign signature verification.
package eth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quorumdao/gatehouse/core"
)

const (
	challengeHeader = " wants you to sign in with your wallet:"

	chainPrefix  = "Chain ID: "
	noncePrefix  = "Nonce: "
	issuedPrefix = "Issued At: "
)

// ValidAddress reports whether s is a well-formed 0x-prefixed hex address.
func ValidAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// NormalizeAddress lower-cases an address for use as a stable subject key.
func NormalizeAddress(s string) string {
	return strings.ToLower(s)
}

// BuildChallenge renders the exact text a wallet is asked to sign. The
// output embeds the inputs verbatim so a verifier can re-derive and compare
// every field from the signed message alone.
func BuildChallenge(domain string, challenge *core.Challenge) (string, error) {
	if !ValidAddress(challenge.Address) {
		return "", fmt.Errorf("build challenge: address %q: %w", challenge.Address, core.ErrInvalidInput)
	}
	if challenge.Nonce == "" {
		return "", fmt.Errorf("build challenge: empty nonce: %w", core.ErrInvalidInput)
	}

	return fmt.Sprintf("%s%s\n%s\n\n%s%d\n%s%s\n%s%s",
		domain, challengeHeader,
		challenge.Address,
		chainPrefix, challenge.ChainID,
		noncePrefix, challenge.Nonce,
		issuedPrefix, challenge.IssuedAt.UTC().Format(time.RFC3339),
	), nil
}

// ParseChallenge recovers the challenge fields from a signed message. The
// message must match the BuildChallenge template exactly; anything else is
// rejected as invalid input.
func ParseChallenge(message string) (*core.Challenge, error) {
	lines := strings.Split(message, "\n")
	if len(lines) != 6 {
		return nil, fmt.Errorf("parse challenge: %w", core.ErrInvalidInput)
	}
	if !strings.HasSuffix(lines[0], challengeHeader) || lines[2] != "" {
		return nil, fmt.Errorf("parse challenge: %w", core.ErrInvalidInput)
	}

	address := lines[1]
	if !ValidAddress(address) {
		return nil, fmt.Errorf("parse challenge: address %q: %w", address, core.ErrInvalidInput)
	}

	chainStr, ok := strings.CutPrefix(lines[3], chainPrefix)
	if !ok {
		return nil, fmt.Errorf("parse challenge: %w", core.ErrInvalidInput)
	}
	chainID, err := strconv.ParseUint(chainStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse challenge: chain id %q: %w", chainStr, core.ErrInvalidInput)
	}

	nonce, ok := strings.CutPrefix(lines[4], noncePrefix)
	if !ok || nonce == "" {
		return nil, fmt.Errorf("parse challenge: %w", core.ErrInvalidInput)
	}

	issuedStr, ok := strings.CutPrefix(lines[5], issuedPrefix)
	if !ok {
		return nil, fmt.Errorf("parse challenge: %w", core.ErrInvalidInput)
	}
	issuedAt, err := time.Parse(time.RFC3339, issuedStr)
	if err != nil {
		return nil, fmt.Errorf("parse challenge: issued at %q: %w", issuedStr, core.ErrInvalidInput)
	}

	return &core.Challenge{
		Address:  address,
		ChainID:  chainID,
		Nonce:    nonce,
		IssuedAt: issuedAt,
	}, nil
}
