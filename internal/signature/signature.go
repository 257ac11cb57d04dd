// Package signature binds a hand-off to its issuer with a secp256k1
// signature over a canonical message.
//
// The canonical message for (issuer, receiver, productID) is the UTF-8 string
//
//	(<issuer>) has issued transaction document to (<receiver>) for product #<productID>
//
// where addresses are EIP-55 checksummed hex with a 0x prefix and productID is
// base-10 without padding. The message digest is Keccak-256 of those bytes.
// Wallets sign the digest with eth_sign, so the hash that is actually signed
// is the EIP-191 personal message hash of the 32-byte digest.
package signature

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the length of an [R || S || V] signature
const SignatureLength = crypto.SignatureLength

// ErrMalformedSignature is returned when a signature cannot be parsed or no
// public key can be recovered from it
var ErrMalformedSignature = errors.New("malformed signature")

// CanonicalMessage returns the exact bytes that are hashed to build the
// digest for a hand-off.
func CanonicalMessage(issuer, receiver common.Address, productID int64) []byte {
	return []byte(fmt.Sprintf("(%s) has issued transaction document to (%s) for product #%d",
		issuer.Hex(), receiver.Hex(), productID))
}

// MessageDigest returns Keccak-256 of the canonical message
func MessageDigest(issuer, receiver common.Address, productID int64) []byte {
	return crypto.Keccak256(CanonicalMessage(issuer, receiver, productID))
}

// signingHash is the hash a wallet signs for digest
func signingHash(digest []byte) []byte {
	return accounts.TextHash(digest)
}

// Sign signs digest the way a wallet's eth_sign does. The returned signature
// has V in {27, 28}.
func Sign(digest []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(signingHash(digest), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recover returns the address of the key that produced sig over digest.
// Both V conventions (0/1 and 27/28) are accepted.
func Recover(digest, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, SignatureLength, len(sig))
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	v := normalized[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return common.Address{}, fmt.Errorf("%w: invalid recovery id %d", ErrMalformedSignature, sig[crypto.RecoveryIDOffset])
	}
	normalized[crypto.RecoveryIDOffset] = v

	pub, err := crypto.SigToPub(signingHash(digest), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verifier checks signatures by public key recovery
type Verifier struct{}

// NewVerifier creates a new signature verifier
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify reports whether sig over digest was produced by claimedSigner. A
// signature from any other key yields false; only unparseable signatures
// yield an error.
func (v *Verifier) Verify(digest, sig []byte, claimedSigner common.Address) (bool, error) {
	signer, err := Recover(digest, sig)
	if err != nil {
		return false, err
	}
	return signer == claimedSigner, nil
}
