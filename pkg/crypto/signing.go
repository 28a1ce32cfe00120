package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/sign"
)

// SignKeySize is the size of a NaCl (Ed25519) signing public or private key
// half. verhex credentials are the 32-byte public half.
const SignKeySize = 32

// ErrSignatureInvalid is returned when Open fails to verify a signed message.
var ErrSignatureInvalid = errors.New("crypto: signature verification failed")

// SignKeyPair is a long-term identity signing keypair (verhex/private).
type SignKeyPair struct {
	Public  [SignKeySize]byte
	Private [64]byte
}

// GenerateSignKeyPair mints a fresh long-term signing keypair; road.NewLocal
// calls it to mint each local identity's verhex. Transaction code treats
// verhex as an opaque credential and never signs packets itself (packet
// signing belongs to the packeting layer).
func GenerateSignKeyPair() (*SignKeyPair, error) {
	pub, priv, err := sign.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &SignKeyPair{Public: *pub, Private: *priv}, nil
}

// Sign attaches a detached-looking signed envelope: the returned slice is
// message with a prepended signature, openable only with the matching
// public key.
func Sign(message []byte, priv [64]byte) []byte {
	return sign.Sign(nil, message, &priv)
}

// Open verifies a signed envelope produced by Sign and returns the original
// message. Returns ErrSignatureInvalid if verification fails.
func Open(signed []byte, pub [SignKeySize]byte) ([]byte, error) {
	message, ok := sign.Open(nil, signed, &pub)
	if !ok {
		return nil, ErrSignatureInvalid
	}
	return message, nil
}
