package crypto

import (
	"bytes"
	"testing"
)

func TestSealBoxOpenBoxRoundTrip(t *testing.T) {
	alice, err := GenerateBoxKeyPair()
	if err != nil {
		t.Fatalf("GenerateBoxKeyPair: %v", err)
	}
	bob, err := GenerateBoxKeyPair()
	if err != nil {
		t.Fatalf("GenerateBoxKeyPair: %v", err)
	}
	nonce, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}

	message := []byte("the oreo nonce")
	sealed := SealBox(nil, message, nonce, bob.Public, alice.Private)

	opened, err := OpenBox(nil, sealed, nonce, alice.Public, bob.Private)
	if err != nil {
		t.Fatalf("OpenBox: %v", err)
	}
	if !bytes.Equal(opened, message) {
		t.Fatalf("got %q, want %q", opened, message)
	}
}

func TestOpenBoxRejectsTamperedCiphertext(t *testing.T) {
	alice, _ := GenerateBoxKeyPair()
	bob, _ := GenerateBoxKeyPair()
	nonce, _ := NewNonce()

	sealed := SealBox(nil, []byte("hello"), nonce, bob.Public, alice.Private)
	sealed[0] ^= 0xff

	if _, err := OpenBox(nil, sealed, nonce, alice.Public, bob.Private); err != ErrBoxOpenFailed {
		t.Fatalf("expected ErrBoxOpenFailed, got %v", err)
	}
}

func TestOpenBoxRejectsWrongKey(t *testing.T) {
	alice, _ := GenerateBoxKeyPair()
	bob, _ := GenerateBoxKeyPair()
	mallory, _ := GenerateBoxKeyPair()
	nonce, _ := NewNonce()

	sealed := SealBox(nil, []byte("hello"), nonce, bob.Public, alice.Private)

	if _, err := OpenBox(nil, sealed, nonce, alice.Public, mallory.Private); err != ErrBoxOpenFailed {
		t.Fatalf("expected ErrBoxOpenFailed, got %v", err)
	}
}
