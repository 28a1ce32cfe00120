package road

import (
	"net"
	"time"

	"github.com/oreobind/road/pkg/keep"
	"github.com/oreobind/road/pkg/packet"
	"github.com/oreobind/road/pkg/wire"
)

// TestPair wires two Stacks together over an in-memory wire.Pipe, for
// exercising the transaction layer without real sockets. The Pipe ends
// are exposed so tests can install loss filters.
type TestPair struct {
	A, B         *Stack
	PipeA, PipeB *wire.Pipe
}

// NewTestPair builds two Stacks named aName/bName, each with its own
// MemoryKeep defaulting to auto-accept, connected by a wire.Pipe.
func NewTestPair(aName, bName string) (*TestPair, error) {
	localA, err := NewLocal(aName, "A", aName, 0, false, true)
	if err != nil {
		return nil, err
	}
	localB, err := NewLocal(bName, "B", bName, 0, true, true)
	if err != nil {
		return nil, err
	}
	// B plays the network's main/authoritative role and so already has a
	// fixed self uid before any join happens; A starts vacuous (uid 0,
	// not main) and learns its own uid from B's join response.
	localB.UID = 1

	stackA := NewStack(localA, keep.NewMemoryKeep(packet.AcceptStatusAccepted), nil)
	stackB := NewStack(localB, keep.NewMemoryKeep(packet.AcceptStatusAccepted), nil)

	pipeA, pipeB := wire.NewPipe(aName, bName)
	pipeA.Bind(stackA.HandleReceived)
	pipeB.Bind(stackB.HandleReceived)

	stackA.SetTransport(pipeA)
	stackB.SetTransport(pipeB)
	_ = pipeA.Start()
	_ = pipeB.Start()

	return &TestPair{A: stackA, B: stackB, PipeA: pipeA, PipeB: pipeB}, nil
}

// Tick advances both stacks by dt, repeated n times — enough ticks for a
// multi-round-trip handshake to settle in tests. Each Process call is
// followed by a short pause so the pipes' read-loop goroutines can hand
// what it flushed to the other stack's inbound queue before that stack
// processes next.
func (p *TestPair) Tick(dt float64, n int) {
	for i := 0; i < n; i++ {
		p.A.Process(dt)
		time.Sleep(time.Millisecond)
		p.B.Process(dt)
		time.Sleep(time.Millisecond)
	}
}

// Join starts A's join to B (A as initiator) and returns A's view of the
// remote, ready for Tick to drive to completion.
func (p *TestPair) Join() *Remote {
	remote := NewRemote(p.B.Local.Name, p.B.Local.Role, p.B.Local.Host, p.B.Local.Port)
	remote.NetAddr = pipeAddrOf(p.B)
	p.A.registerRemote(remote)
	StartJoiner(p.A, remote)
	return remote
}

func pipeAddrOf(s *Stack) net.Addr {
	return s.transport.LocalAddr()
}
