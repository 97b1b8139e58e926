package channels

import (
	"github.com/danmuck/jupyterwire/internal/protocol"
)

// IOPubChannel is the kernel's broadcast side. It has no receive loop.
type IOPubChannel struct {
	sock *Socket
}

func NewIOPubChannel(sock *Socket) *IOPubChannel {
	return &IOPubChannel{sock: sock}
}

func (c *IOPubChannel) Socket() *Socket { return c.sock }

// Send publishes msg. Messages without routing identities use the message
// type as the subscription topic.
func (c *IOPubChannel) Send(msg *protocol.Message) error {
	if len(msg.Identities) == 0 {
		topic := *msg
		topic.Identities = [][]byte{[]byte(msg.TypeName())}
		return c.sock.Send(&topic)
	}
	return c.sock.Send(msg)
}
