package road

import "github.com/oreobind/road/pkg/packet"

// Joiner drives the initiator side of a join transaction: present this
// endpoint's identity to a remote and wait for it to mint (or confirm) a
// uid and initial session id (spec.md §4.3, C3).
type Joiner struct {
	*txBase
}

// StartJoiner transmits the initial join request and registers the
// transaction against remote. remote's uid may still be 0 — a vacuous
// remote bootstrapping its first join, per spec.md §3.
//
// Preconditions per spec.md §4.3: a main endpoint never initiates a join
// (it yokes instead), at most one join per remote may be in flight, and a
// correspondent yoke already in progress for this remote is pre-empted
// with a refuse before the join starts.
func StartJoiner(stack *Stack, remote *Remote) *Joiner {
	if stack.Local.Main {
		stack.Stats.Inc(StatInvalidJoin)
		return nil
	}
	if remote.HasKindInProgress(TxKindFilter{Kind: packet.TransKindJoin, Rmt: false}) {
		stack.Stats.Inc(StatDuplicateJoinAttempt)
		return nil
	}
	for _, tx := range remote.Transactions() {
		if tx.Kind() == packet.TransKindYoke && tx.Index().Rmt {
			tx.Nack(packet.PacketKindRefuse)
			remote.Remove(tx.Index())
		}
	}

	j := &Joiner{}
	params := JoinerParams()
	j.txBase = newTxBase(stack, remote, j, packet.TransKindJoin, false, params, StatRedoJoin, ClassFailureStat("joiner"))
	j.tid = remote.NextTid()

	j.Add(Index{
		Rmt:      false,
		LocalID:  stack.Local.ID(),
		RemoteID: remote.ID(),
		Tid:      j.tid,
	})

	body := packet.NewBody()
	body["name"] = stack.Local.Name
	body["role"] = stack.Local.Role
	body.SetBytes("verhex", stack.Local.VerHex[:])
	body.SetBytes("pubhex", stack.Local.PubHex[:])

	j.Transmit(&packet.Packet{
		Head: packet.Header{
			SourceHost: stack.Local.Host, SourcePort: stack.Local.Port, SourceUID: stack.Local.UID,
			DestHost: remote.Host, DestPort: remote.Port, DestUID: remote.UID,
			TransKind: packet.TransKindJoin, PacketKind: packet.PacketKindRequest,
			Correspondent: false, TID: j.tid,
		},
		Body: body,
	})
	return j
}

func (j *Joiner) Receive(pkt *packet.Packet) {
	j.storeRx(pkt)
	switch pkt.Head.PacketKind {
	case packet.PacketKindResponse:
		j.onResponse(pkt)
	case packet.PacketKindRenew:
		j.onRenew()
	case packet.PacketKindNack, packet.PacketKindRefuse, packet.PacketKindReject:
		j.stack.Stats.Inc(j.failureStat)
		j.remote.Joined = TriFalse
		j.Remove()
	default:
		j.stack.Stats.Inc(StatInvalidJoin)
	}
}

// onRenew restarts the join vacuously after the correspondent reported it
// no longer recognizes the uid this endpoint addressed it under. Only
// permitted while this endpoint's own identity may still change, and at
// most once per join initiation (spec.md §4.3, §8) — a correspondent stuck
// in a renew loop past that bound is treated as a failure instead of
// retried forever.
func (j *Joiner) onRenew() {
	if j.stack.Local.Main || !j.stack.Local.Mutable || j.remote.joinRenewed {
		j.stack.Stats.Inc(StatInvalidJoin)
		j.remote.Joined = TriFalse
		j.Remove()
		return
	}
	j.remote.joinRenewed = true
	j.remote.Sid = 0
	j.remote.Rsid = 0
	j.tid = 0
	j.stack.moveRemote(j.remote, 0)
	j.stack.Local.UID = 0
	j.Remove()
	StartJoiner(j.stack, j.remote)
}

// Nack overrides the base no-op: a joiner that times out waiting for a
// response marks the remote unjoined so the application can decide
// whether to retry (spec.md §4.3).
func (j *Joiner) Nack(packet.PacketKind) {
	j.remote.Joined = TriFalse
	j.stack.Stats.Inc(StatUnjoinedRemote)
}

func (j *Joiner) onResponse(pkt *packet.Packet) {
	if pkt.Head.Wait {
		// The correspondent is holding our keys for operator approval
		// (spec.md §4.3 step 2). Stretch the outer timeout and keep
		// waiting for the real response.
		j.remote.Joined = TriUnknown
		j.elapsedTotal = 0
		return
	}

	assignedUID, okUID := pkt.Body.GetUint32("uid")
	sid, okSID := pkt.Body.GetUint32("sid")
	serverUID, okServer := pkt.Body.GetUint32("server_uid")
	serverVerHexB, _ := pkt.Body.GetBytes("server_verhex")
	serverPubHexB, _ := pkt.Body.GetBytes("server_pubhex")
	if !okUID || !okSID || !okServer || len(serverVerHexB) != 32 || len(serverPubHexB) != 32 {
		j.stack.Stats.Inc(StatInvalidAccept)
		return
	}

	// assignedUID is the self-identifier the correspondent minted for
	// this endpoint; serverUID is the correspondent's own, already-fixed
	// uid. These are two different uid spaces — conflating them would
	// leave this endpoint unable to address the correspondent correctly
	// in later transactions.
	j.stack.Local.UID = assignedUID
	if j.remote.UID != serverUID {
		j.stack.moveRemote(j.remote, serverUID)
	}

	// The correspondent's long-term keys only arrive in this response —
	// without recording them here, Allow's authenticated OpenBox against
	// this remote's PubHex would have nothing real to check against.
	copy(j.remote.VerHex[:], serverVerHexB)
	copy(j.remote.PubHex[:], serverPubHexB)
	if name, ok := pkt.Body.GetString("server_name"); ok && name != "" {
		j.stack.renameRemote(j.remote, name)
	}
	if role, ok := pkt.Body.GetString("server_role"); ok && role != "" {
		j.remote.Role = role
	}

	j.remote.Sid = sid
	j.remote.RemoveStaleInitiators(sid)
	j.remote.Joined = TriTrue
	j.stack.persist(j.remote)
	j.stack.Stats.Inc(StatJoinInitiateComplete)

	j.stack.sendOnce(&packet.Packet{
		Head: packet.Header{
			SourceHost: j.stack.Local.Host, SourcePort: j.stack.Local.Port, SourceUID: j.stack.Local.UID,
			DestHost: j.remote.Host, DestPort: j.remote.Port, DestUID: j.remote.UID,
			TransKind: packet.TransKindJoin, PacketKind: packet.PacketKindAck,
			Correspondent: false, SID: j.remote.Sid, TID: j.tid,
		},
		Body: packet.NewBody(),
	}, j.remote.NetAddr)

	j.Remove()

	if j.params.Cascade {
		StartAllower(j.stack, j.remote)
	}
}
