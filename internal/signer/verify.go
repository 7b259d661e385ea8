package signer

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

var (
	ErrInvalidPubKey   = errors.New("signer: invalid public key bytes")
	ErrInvalidSignature = errors.New("signer: invalid signature encoding")
	ErrVerifyFailed    = errors.New("signer: signature does not verify")
)

// VerifyPartialSig verifies sig (DER-encoded) against blockHash under
// pubKeyBytes (compressed or uncompressed secp256k1), per spec.md's
// invariant 2 ("A partial signature is accepted only if it verifies
// against the proposer's candidate block hash under the redeem script's
// position-i public key") and the §9 strengthening note.
func VerifyPartialSig(pubKeyBytes, sig, blockHash []byte) error {
	pubKey, err := secp256k1.ParsePubKey(pubKeyBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	parsedSig, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !parsedSig.Verify(blockHash, pubKey) {
		return ErrVerifyFailed
	}
	return nil
}
