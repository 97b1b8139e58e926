package comm

import (
	"github.com/danmuck/jupyterwire/internal/protocol"
)

// Client sends comm traffic to the peer. ctx is the message being handled
// when the traffic was generated, or nil.
type Client interface {
	SendOpen(ctx *protocol.Message, id, target string, data map[string]any) error
	SendMessage(ctx *protocol.Message, id string, data map[string]any) error
	SendClose(ctx *protocol.Message, id string, data map[string]any) error
}

// MessageClient builds comm messages and hands them to send. Kernels send on
// iopub; frontends send on shell.
type MessageClient struct {
	send     func(*protocol.Message) error
	session  string
	username string
}

func NewMessageClient(send func(*protocol.Message) error, session, username string) *MessageClient {
	return &MessageClient{send: send, session: session, username: username}
}

func (c *MessageClient) SendOpen(ctx *protocol.Message, id, target string, data map[string]any) error {
	return c.send(c.build(ctx, protocol.MsgCommOpen, &protocol.CommOpen{CommID: id, TargetName: target, Data: orEmpty(data)}))
}

func (c *MessageClient) SendMessage(ctx *protocol.Message, id string, data map[string]any) error {
	return c.send(c.build(ctx, protocol.MsgCommMsg, &protocol.CommMsg{CommID: id, Data: orEmpty(data)}))
}

func (c *MessageClient) SendClose(ctx *protocol.Message, id string, data map[string]any) error {
	return c.send(c.build(ctx, protocol.MsgCommClose, &protocol.CommClose{CommID: id, Data: orEmpty(data)}))
}

func (c *MessageClient) build(ctx *protocol.Message, typ *protocol.MessageType, content any) *protocol.Message {
	if ctx == nil {
		return protocol.NewMessage(typ, content, c.session, c.username)
	}
	return protocol.NewBroadcast(ctx, typ, content)
}

func orEmpty(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return data
}
