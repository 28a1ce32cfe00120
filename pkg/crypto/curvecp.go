package crypto

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/box"
)

// CurveCP-flavored sizes. These match golang.org/x/crypto/nacl/box exactly:
// Curve25519 public/private keys are 32 bytes, box nonces are 24 bytes, and
// Poly1305 adds a 16-byte authentication tag to every sealed message.
const (
	// PubKeySize is the size of a Curve25519 public or private key.
	PubKeySize = 32

	// NonceSize is the size of a box nonce (the "oreo" binder in the Allow
	// handshake is one of these, minted by the correspondent).
	NonceSize = 24

	// BoxOverhead is the Poly1305 MAC appended to every sealed box.
	BoxOverhead = box.Overhead
)

// Errors returned by the box-sealing helpers below.
var (
	ErrBoxOpenFailed  = errors.New("crypto: box authentication failed")
	ErrInvalidKeySize = errors.New("crypto: key must be 32 bytes")
	ErrInvalidNonce   = errors.New("crypto: nonce must be 24 bytes")
)

// BoxKeyPair is a Curve25519 keypair used for CurveCP sealed boxes, either a
// long-term identity keypair or a short-term (per-session) one minted by
// Rekey.
type BoxKeyPair struct {
	Public  [PubKeySize]byte
	Private [PubKeySize]byte
}

// GenerateBoxKeyPair mints a fresh Curve25519 keypair. Used both for a
// peer's long-term crypt keys and for the short-term keys exchanged during
// Allow.
func GenerateBoxKeyPair() (*BoxKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &BoxKeyPair{Public: *pub, Private: *priv}, nil
}

// NewNonce returns a fresh random 24-byte nonce suitable for SealBox.
func NewNonce() ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nonce, err
	}
	return nonce, nil
}

// SealBox authenticates and encrypts message under (myPrivate, peerPublic)
// using the given nonce, appending the result to out. This is used for
// hello/cookie/initiate payloads and for the vouch (short-term public key
// sealed under the two sides' long-term keys).
func SealBox(out, message []byte, nonce [NonceSize]byte, peerPublic, myPrivate [PubKeySize]byte) []byte {
	return box.Seal(out, message, &nonce, &peerPublic, &myPrivate)
}

// OpenBox authenticates and decrypts a box sealed by SealBox. Returns
// ErrBoxOpenFailed if authentication fails (wrong keys, wrong nonce, or a
// tampered ciphertext).
func OpenBox(out, box_ []byte, nonce [NonceSize]byte, peerPublic, myPrivate [PubKeySize]byte) ([]byte, error) {
	opened, ok := box.Open(out, box_, &nonce, &peerPublic, &myPrivate)
	if !ok {
		return nil, ErrBoxOpenFailed
	}
	return opened, nil
}
