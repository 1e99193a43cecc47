package eth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/quorumdao/gatehouse/core"
)

// TextHash computes the EIP-191 personal_sign digest:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func TextHash(message []byte) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}

// RecoverSigner returns the address that produced an EIP-191 signature over
// message. The signature is the usual 65-byte R||S||V blob in hex, with V
// accepted in either the 0/1 or 27/28 convention.
func RecoverSigner(message string, signatureHex string) (common.Address, error) {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", core.ErrInvalidSignature)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes: %w", crypto.SignatureLength, core.ErrInvalidSignature)
	}

	// crypto.SigToPub expects V in {0, 1}; wallets emit 27/28.
	recovery := make([]byte, crypto.SignatureLength)
	copy(recovery, sig)
	if recovery[crypto.RecoveryIDOffset] >= 27 {
		recovery[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(TextHash([]byte(message)), recovery)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", core.ErrInvalidSignature)
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that signatureHex was produced over exactly message
// by the private key of claimedAddress. It returns ErrInvalidSignature for
// malformed signatures and signer mismatches alike; it never panics on bad
// input.
func VerifySignature(message, signatureHex, claimedAddress string) error {
	if !ValidAddress(claimedAddress) {
		return fmt.Errorf("verify signature: address %q: %w", claimedAddress, core.ErrInvalidInput)
	}

	signer, err := RecoverSigner(message, signatureHex)
	if err != nil {
		return err
	}

	if signer != common.HexToAddress(claimedAddress) {
		return fmt.Errorf("signer %s does not match claimed address: %w", signer.Hex(), core.ErrInvalidSignature)
	}

	return nil
}
