package road

import (
	"fmt"

	"github.com/oreobind/road/pkg/packet"
)

// PeerID is either a uid or, when uid is 0 (bootstrapping, spec.md §3), a
// host address — the "local_id"/"remote_id" halves of an Index.
type PeerID struct {
	UID uint32
	HA  string
}

func uidOrAddr(uid uint32, host string, port uint16) PeerID {
	if uid != 0 {
		return PeerID{UID: uid}
	}
	return PeerID{HA: fmt.Sprintf("%s:%d", host, port)}
}

// Index is the transaction index tuple of spec.md §3:
// (rmt, local_id, remote_id, sid, tid, bcst). Rmt here is always this
// endpoint's own role in the transaction (true = correspondent), not
// whichever role the most recently received packet claims for its sender —
// that's why it's safe to use as a stable map key even though packets
// arriving mid-transaction report the *other* side's role in their header.
type Index struct {
	Rmt      bool
	LocalID  PeerID
	RemoteID PeerID
	Sid      uint32
	Tid      uint32
	Bcst     bool
}

// indexFromHeader computes the Index as seen by the receiver of a packet:
// the receiver's own role is always the opposite of whatever the sender's
// header claims (cf = sender's rmt), because road transactions are
// strictly two-party.
func indexFromHeader(h packet.Header) Index {
	return Index{
		Rmt:      !h.Correspondent,
		LocalID:  uidOrAddr(h.DestUID, h.DestHost, h.DestPort),
		RemoteID: uidOrAddr(h.SourceUID, h.SourceHost, h.SourcePort),
		Sid:      h.SID,
		Tid:      h.TID,
		Bcst:     h.Broadcast,
	}
}
