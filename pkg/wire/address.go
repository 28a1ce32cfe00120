package wire

import "net"

// ReceivedMessage is handed to a MessageHandler for every inbound
// datagram, pairing the raw bytes with the address they arrived from.
type ReceivedMessage struct {
	Data     []byte
	PeerAddr net.Addr
}

// MessageHandler is called once per inbound datagram.
type MessageHandler func(msg *ReceivedMessage)

// Transport is the datagram I/O layer interface road.Stack depends on: it
// can send a datagram to an address and is started with a handler that
// receives inbound datagrams. Both UDP and Pipe implement it.
type Transport interface {
	Start() error
	Stop() error
	Send(data []byte, addr net.Addr) error
	LocalAddr() net.Addr
}
