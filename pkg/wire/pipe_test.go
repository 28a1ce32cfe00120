package wire

import (
	"testing"
	"time"
)

func TestPipeDelivers(t *testing.T) {
	a, b := NewPipe("a", "b")

	received := make(chan *ReceivedMessage, 1)
	b.Bind(func(msg *ReceivedMessage) { received <- msg })
	a.Bind(func(msg *ReceivedMessage) {})

	if err := a.Start(); err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("b.Start: %v", err)
	}
	defer a.Stop()
	defer b.Stop()

	if err := a.Send([]byte("hello"), b.LocalAddr()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Data) != "hello" {
			t.Fatalf("got %q, want %q", msg.Data, "hello")
		}
		if msg.PeerAddr.String() != "a" {
			t.Fatalf("PeerAddr = %q, want %q", msg.PeerAddr.String(), "a")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}
