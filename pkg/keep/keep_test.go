package keep

import (
	"testing"

	"github.com/oreobind/road/pkg/packet"
)

func TestMemoryKeepDefaultVerdict(t *testing.T) {
	k := NewMemoryKeep(packet.AcceptStatusPending)

	var verhex, pubhex [32]byte
	verhex[0] = 1
	pubhex[0] = 2

	if got := k.Accepted("node", verhex, pubhex); got != packet.AcceptStatusPending {
		t.Fatalf("expected the default verdict for unseen keys, got %v", got)
	}

	k.Approve("node", verhex, pubhex)
	if got := k.Accepted("node", verhex, pubhex); got != packet.AcceptStatusAccepted {
		t.Fatalf("expected accepted after Approve, got %v", got)
	}

	k.Reject("node", verhex, pubhex)
	if got := k.Accepted("node", verhex, pubhex); got != packet.AcceptStatusRejected {
		t.Fatalf("expected rejected after Reject, got %v", got)
	}

	// A different role with the same keys is a different credential pair.
	if got := k.Accepted("other", verhex, pubhex); got != packet.AcceptStatusPending {
		t.Fatalf("expected the default verdict for a different role, got %v", got)
	}
}

func TestMemoryKeepSaveLoad(t *testing.T) {
	k := NewMemoryKeep(packet.AcceptStatusAccepted)

	rec := Record{UID: 7, Name: "alpha", Role: "node", Host: "10.0.0.2", Port: 7530, Sid: 3}
	if err := k.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok := k.Load(7)
	if !ok || got.Name != "alpha" || got.Sid != 3 {
		t.Fatalf("Load(7) = %+v, %v", got, ok)
	}
	got, ok = k.LoadByName("alpha")
	if !ok || got.UID != 7 {
		t.Fatalf("LoadByName(alpha) = %+v, %v", got, ok)
	}
	if _, ok := k.Load(8); ok {
		t.Fatalf("expected no record under uid 8")
	}

	// Saving again under the same uid replaces the record.
	rec.Sid = 4
	if err := k.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _ = k.Load(7)
	if got.Sid != 4 {
		t.Fatalf("expected the re-saved record, got sid %d", got.Sid)
	}
}
