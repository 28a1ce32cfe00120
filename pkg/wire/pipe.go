package wire

import (
	"net"
	"sync"
)

// pipeAddr is a net.Addr for one end of an in-memory Pipe.
type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

// Pipe is an in-memory, two-endpoint Transport used by tests to wire two
// Stacks together without real sockets. The teacher's equivalent
// (pkg/transport/pipe.go) wraps pion/transport/v3/test.Bridge; that
// dependency family isn't wired into this module (see DESIGN.md), so Pipe
// is rebuilt directly on buffered channels instead, keeping the same
// "two linked endpoints" shape as NewPipeFactoryPair.
type Pipe struct {
	local pipeAddr
	peer  *Pipe

	inbound chan *ReceivedMessage
	handler MessageHandler

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}

	// lossFn, when set, is consulted on every Send; returning true drops
	// the datagram, letting tests simulate packet loss.
	lossFn func(data []byte) bool
}

// NewPipe creates two Pipe endpoints, named a and b, wired back to back:
// whatever one Sends, the other receives once Start is called.
func NewPipe(aName, bName string) (a, b *Pipe) {
	a = &Pipe{local: pipeAddr(aName), inbound: make(chan *ReceivedMessage, 256), done: make(chan struct{})}
	b = &Pipe{local: pipeAddr(bName), inbound: make(chan *ReceivedMessage, 256), done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// Bind attaches the handler that Start's read loop delivers datagrams to.
func (p *Pipe) Bind(handler MessageHandler) {
	p.handler = handler
}

// SetLossFn installs a loss filter for tests: fn sees each outbound
// datagram and returning true drops it instead of delivering.
func (p *Pipe) SetLossFn(fn func(data []byte) bool) {
	p.lossFn = fn
}

func (p *Pipe) Start() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	if p.handler == nil {
		p.mu.Unlock()
		return ErrNoHandler
	}
	p.started = true
	p.mu.Unlock()

	go p.readLoop()
	return nil
}

func (p *Pipe) Stop() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	return nil
}

// Send ignores addr — a Pipe has exactly one peer — and delivers data to
// it, matching Transport's signature so Pipe and UDP are interchangeable.
func (p *Pipe) Send(data []byte, addr net.Addr) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if len(data) > MaxDatagramSize {
		return ErrMessageTooLarge
	}
	if p.lossFn != nil && p.lossFn(data) {
		return nil
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case p.peer.inbound <- &ReceivedMessage{Data: cp, PeerAddr: p.local}:
	default:
		// peer's queue is full; drop, matching UDP's best-effort delivery.
	}
	return nil
}

func (p *Pipe) LocalAddr() net.Addr {
	return p.local
}

func (p *Pipe) readLoop() {
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.inbound:
			p.handler(msg)
		}
	}
}
