package road

import (
	"encoding/binary"
	"net"

	"github.com/pion/logging"

	"github.com/oreobind/road/pkg/crypto"
	"github.com/oreobind/road/pkg/keep"
	"github.com/oreobind/road/pkg/packet"
	"github.com/oreobind/road/pkg/wire"
)

// RxMessage is a fully reassembled application payload delivered to the
// Stack's rxMsgs queue by a Messengent (spec.md §4.7).
type RxMessage struct {
	Body []byte
	From string // the sending remote's name
}

type outboundPkt struct {
	data []byte
	addr net.Addr
}

type inboundPkt struct {
	pkt  *packet.Packet
	addr net.Addr
}

// Stack owns the peer registries, the monotonic clock, stat counters, and
// the inbound/outbound datagram queues (spec.md §3). It is the only piece
// of this package driven from outside: callers build one, bind a
// transport, and call Process on a cadence of their choosing — there is no
// internal goroutine or timer (spec.md §5's single-threaded cooperative
// model).
type Stack struct {
	Local *Local

	remotes     map[uint32]*Remote
	nameRemotes map[string]*Remote
	haRemotes   map[string]*Remote

	store float64 // monotonic seconds

	Stats *Stats
	Keep  keep.Keep
	Log   logging.LeveledLogger

	transport wire.Transport

	inbound  chan inboundPkt
	outbound []outboundPkt

	RxMsgs chan RxMessage

	nextMintedUID uint32

	StrictFqdn bool // spec.md §9 open-question config flag, default permissive (false)
	Wait       bool // spec.md §4.7/§6's segment-by-segment message ack flag, default off
}

// NewStack constructs a Stack for the given local identity. The transport
// must be bound separately with SetTransport (and its handler pointed at
// HandleReceived) since Transport construction and Stack construction are
// mutually dependent — see pkg/wire's UDP/Pipe constructors.
func NewStack(local *Local, keepLayer keep.Keep, logFactory logging.LoggerFactory) *Stack {
	s := &Stack{
		Local:       local,
		remotes:     make(map[uint32]*Remote),
		nameRemotes: make(map[string]*Remote),
		haRemotes:   make(map[string]*Remote),
		Stats:       NewStats(),
		Keep:        keepLayer,
		inbound:     make(chan inboundPkt, 1024),
		RxMsgs:      make(chan RxMessage, 256),
	}
	if logFactory != nil {
		s.Log = logFactory.NewLogger("road")
	}
	return s
}

// SetTransport binds the datagram I/O layer. Callers typically do:
//
//	s := road.NewStack(local, k, lf)
//	t, _ := wire.NewUDP(wire.UDPConfig{ListenAddr: ":7530", MessageHandler: s.HandleReceived})
//	s.SetTransport(t)
//	t.Start()
func (s *Stack) SetTransport(t wire.Transport) {
	s.transport = t
}

// HandleReceived is the wire.MessageHandler the transport's read loop
// calls for every inbound datagram. It only parses the wire frame and
// queues it — all registry mutation happens later, from Process, on the
// single cooperative-scheduler goroutine.
func (s *Stack) HandleReceived(msg *wire.ReceivedMessage) {
	pkt, err := packet.Parse(msg.Data)
	if err != nil {
		s.Stats.Inc(StatParsingMessageError)
		return
	}
	select {
	case s.inbound <- inboundPkt{pkt: pkt, addr: msg.PeerAddr}:
	default:
		// Inbound queue full; drop, matching the best-effort delivery
		// the rest of the stack already assumes for datagrams.
	}
}

func (s *Stack) enqueueOutbound(data []byte, addr net.Addr) {
	s.outbound = append(s.outbound, outboundPkt{data: data, addr: addr})
}

// Process drives the cooperative scheduler one tick: advance the clock by
// dt seconds, drain whatever arrived on the inbound queue, tick every live
// transaction's redo/timeout logic, then flush the outbound queue through
// the transport. Per spec.md §5, nothing here blocks or yields.
func (s *Stack) Process(dt float64) {
	s.store += dt

	s.drainInbound()
	s.tickTransactions(dt)
	s.flushOutbound()
}

// Now returns the stack's current monotonic clock value.
func (s *Stack) Now() float64 { return s.store }

func (s *Stack) drainInbound() {
	for {
		select {
		case in := <-s.inbound:
			s.dispatch(in.pkt, in.addr)
		default:
			return
		}
	}
}

func (s *Stack) tickTransactions(dt float64) {
	for _, r := range s.allRemotes() {
		for _, t := range r.Transactions() {
			t.Process(dt)
		}
	}
}

func (s *Stack) flushOutbound() {
	if s.transport == nil {
		s.outbound = s.outbound[:0]
		return
	}
	for _, p := range s.outbound {
		if err := s.transport.Send(p.data, p.addr); err != nil && s.Log != nil {
			s.Log.Warnf("send failed: %v", err)
		}
	}
	s.outbound = s.outbound[:0]
}

// allRemotes returns a snapshot of every registered remote plus any
// not-yet-registered ephemeral ones reachable only by address — callers
// should use this rather than ranging s.remotes directly since dispatch
// may add/rename remotes mid-tick.
func (s *Stack) allRemotes() []*Remote {
	seen := make(map[*Remote]bool)
	out := make([]*Remote, 0, len(s.remotes))
	for _, r := range s.remotes {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, r := range s.haRemotes {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

func (s *Stack) findRemote(id PeerID) *Remote {
	if id.UID != 0 {
		if r, ok := s.remotes[id.UID]; ok {
			return r
		}
		return nil
	}
	if r, ok := s.haRemotes[id.HA]; ok {
		return r
	}
	return nil
}

func (s *Stack) findByName(name string) (*Remote, bool) {
	r, ok := s.nameRemotes[name]
	return r, ok
}

// mintUID allocates a fresh nonzero remote uid. Only the main peer calls
// this (spec.md GLOSSARY: "Main: the authoritative endpoint allowed to
// mint remote uids"). The underlying counter still advances linearly, but
// each candidate is folded through HMAC-SHA256 keyed on this endpoint's
// signing key first, so minted uids aren't predictable from allocation
// order.
func (s *Stack) mintUID() uint32 {
	for {
		s.nextMintedUID++
		candidate := s.obfuscateCounter(s.nextMintedUID)
		if candidate == 0 || candidate == s.Local.UID {
			continue
		}
		if _, taken := s.remotes[candidate]; !taken {
			return candidate
		}
	}
}

func (s *Stack) obfuscateCounter(counter uint32) uint32 {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], counter)
	mac := crypto.HMACSHA256(s.Local.Signing.Private[:], buf[:])
	return binary.BigEndian.Uint32(mac[:4])
}

// initialSid derives an unpredictable starting session id for a freshly
// created remote via HKDF-SHA256 over this endpoint's long-term box key,
// rather than always starting a new relationship's sid at the guessable 0.
// Every accept still bumps forward from whatever this returns, preserving
// the monotonic sid advance spec.md §4.3 requires.
func (s *Stack) initialSid(r *Remote) uint32 {
	material, err := crypto.HKDFSHA256(s.Local.LongTerm.Private[:], nil, []byte("road-sid:"+r.Addr()), 4)
	if err != nil {
		return 0
	}
	v := binary.BigEndian.Uint32(material)
	if v == 0 {
		return 1
	}
	return v
}

// registerRemote places r into the uid/name/ha registries, enforcing the
// "(uid, name, ha) are each unique" invariant (spec.md §3). Call only
// after all uniqueness checks have already passed — this just performs
// the mutation.
func (s *Stack) registerRemote(r *Remote) {
	if s.Log != nil {
		s.Log.Debugf("registering remote name=%q uid=%d ha=%s corr=%s", r.Name, r.UID, r.Addr(), r.correlationID)
	}
	if r.UID != 0 {
		s.remotes[r.UID] = r
	}
	if r.Name != "" {
		s.nameRemotes[r.Name] = r
	}
	if r.Host != "" {
		s.haRemotes[r.Addr()] = r
	}
}

// unregisterRemote removes r from all three registries.
func (s *Stack) unregisterRemote(r *Remote) {
	if r.UID != 0 {
		delete(s.remotes, r.UID)
	}
	if r.Name != "" {
		delete(s.nameRemotes, r.Name)
	}
	if r.Host != "" {
		delete(s.haRemotes, r.Addr())
	}
}

// moveRemote re-registers r under a new uid, per spec.md §4.3's
// "moveRemote(new=reid)".
func (s *Stack) moveRemote(r *Remote, newUID uint32) {
	if r.UID != 0 {
		delete(s.remotes, r.UID)
	}
	r.UID = newUID
	if newUID != 0 {
		s.remotes[newUID] = r
	}
}

// renameRemote re-registers r under a new name, per spec.md §4.3's
// "renameRemote(new=name)".
func (s *Stack) renameRemote(r *Remote, newName string) {
	if r.Name != "" {
		delete(s.nameRemotes, r.Name)
	}
	r.Name = newName
	if newName != "" {
		s.nameRemotes[newName] = r
	}
}

// persist calls into the keep layer after an accepted mutation, per
// SPEC_FULL.md §2.1's "Stack.dumpRemote/loadRemote persistence hooks" —
// the keep layer's actual storage format is out of scope; only the call
// site and ordering are in scope here.
func (s *Stack) persist(r *Remote) {
	if s.Keep == nil {
		return
	}
	_ = s.Keep.Save(keep.Record{
		UID:    r.UID,
		Name:   r.Name,
		Role:   r.Role,
		Host:   r.Host,
		Port:   r.Port,
		VerHex: r.VerHex,
		PubHex: r.PubHex,
		Sid:    r.Sid,
	})
}

// deliverMessage pushes a reassembled application payload to RxMsgs,
// spec.md §4.7's "deliver (body, remote.name) to the stack's rxMsgs
// queue".
func (s *Stack) deliverMessage(body []byte, fromName string) {
	select {
	case s.RxMsgs <- RxMessage{Body: body, From: fromName}:
	default:
		// Application isn't draining RxMsgs fast enough; drop rather
		// than block the cooperative scheduler.
	}
}

func (s *Stack) dispatch(pkt *packet.Packet, addr net.Addr) {
	idx := indexFromHeader(pkt.Head)
	remote := s.findRemote(idx.RemoteID)

	if remote != nil {
		if t, ok := remote.Get(idx); ok {
			t.Receive(pkt)
			return
		}
	}

	switch pkt.Head.TransKind {
	case packet.TransKindJoin:
		if pkt.Head.PacketKind != packet.PacketKindRequest {
			s.staleFallback(pkt, addr, idx)
			return
		}
		acceptJoinRequest(s, addr, pkt, remote, idx)
	case packet.TransKindYoke:
		if pkt.Head.PacketKind != packet.PacketKindRequest {
			s.staleFallback(pkt, addr, idx)
			return
		}
		acceptYokeRequest(s, addr, pkt, remote, idx)
	case packet.TransKindAllow:
		if remote == nil {
			UnknownEid(s, addr, pkt, true)
			return
		}
		// Everything past join/yoke runs under the currently-valid sid
		// (spec.md §3); a hello carrying an older one is a leftover from a
		// superseded session, not a new handshake.
		if pkt.Head.PacketKind != packet.PacketKindHello || idx.Sid != remote.Sid {
			s.staleFallback(pkt, addr, idx)
			return
		}
		acceptAllowHello(s, addr, pkt, remote)
	case packet.TransKindAlive:
		if remote == nil {
			UnknownEid(s, addr, pkt, true)
			return
		}
		if pkt.Head.PacketKind != packet.PacketKindRequest || idx.Sid != remote.Sid {
			s.staleFallback(pkt, addr, idx)
			return
		}
		acceptAliveRequest(s, addr, pkt, remote)
	case packet.TransKindMessage:
		if remote == nil {
			UnknownEid(s, addr, pkt, true)
			return
		}
		if pkt.Head.PacketKind != packet.PacketKindMessage || idx.Sid != remote.Sid {
			s.staleFallback(pkt, addr, idx)
			return
		}
		acceptMessageFirstSegment(s, addr, pkt, remote, idx)
	default:
		s.staleFallback(pkt, addr, idx)
	}
}

// sendOnce packs pkt and enqueues it, with no retransmit tracking — for
// fire-and-forget replies (acks, rejects) that aren't worth a full
// transaction's redo scaffold.
func (s *Stack) sendOnce(pkt *packet.Packet, addr net.Addr) {
	data, err := pkt.Pack()
	if err != nil {
		s.Stats.Inc(StatPackingError)
		return
	}
	s.enqueueOutbound(data, addr)
}

// keepAccepted consults the bound keep layer, defaulting to Accepted when
// none is bound (a bare Stack with no keep layer behaves permissively,
// useful for tests exercising the transaction layer in isolation).
func (s *Stack) keepAccepted(role string, verhex, pubhex [32]byte) packet.AcceptStatus {
	if s.Keep == nil {
		return packet.AcceptStatusAccepted
	}
	return s.Keep.Accepted(role, verhex, pubhex)
}

// staleFallback implements C2's role split: if our own role in the
// inferred index is correspondent (idx.Rmt true) the sender claimed to be
// an initiator we have no transaction for — Stalent; otherwise Staler.
func (s *Stack) staleFallback(pkt *packet.Packet, addr net.Addr, idx Index) {
	if idx.Rmt {
		Stalent(s, addr, pkt)
	} else {
		Staler(s, addr, pkt)
	}
}
