package crypto

import (
	"bytes"
	"testing"
)

func TestSignOpenRoundTrip(t *testing.T) {
	kp, err := GenerateSignKeyPair()
	if err != nil {
		t.Fatalf("GenerateSignKeyPair: %v", err)
	}

	message := []byte("the oreo nonce, signed")
	signed := Sign(message, kp.Private)

	opened, err := Open(signed, kp.Public)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, message) {
		t.Fatalf("got %q, want %q", opened, message)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	kp, _ := GenerateSignKeyPair()
	other, _ := GenerateSignKeyPair()

	signed := Sign([]byte("hello"), kp.Private)

	if _, err := Open(signed, other.Public); err != ErrSignatureInvalid {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestOpenRejectsTamperedEnvelope(t *testing.T) {
	kp, _ := GenerateSignKeyPair()
	signed := Sign([]byte("hello"), kp.Private)
	signed[len(signed)-1] ^= 0xff

	if _, err := Open(signed, kp.Public); err != ErrSignatureInvalid {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}
