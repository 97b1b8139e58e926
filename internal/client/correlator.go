package client

import (
	"github.com/danmuck/jupyterwire/internal/logging"
	"github.com/danmuck/jupyterwire/internal/observability"
	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/rs/zerolog"
)

// WildHandler receives inbound messages that no pending request claims:
// parentless broadcasts, replies to unknown ids and mismatched replies.
type WildHandler func(channel string, msg *protocol.Message)

// LogWild returns a WildHandler that logs at debug.
func LogWild(log zerolog.Logger) WildHandler {
	return func(channel string, msg *protocol.Message) {
		log.Debug().Msgf("client.wild channel=%s msg_type=%q parent=%q", channel, msg.TypeName(), msg.ParentID())
	}
}

// Correlator maps outgoing requests to their pending futures and routes
// inbound messages by parent msg_id.
type Correlator struct {
	table *pendingTable
	wild  WildHandler
	log   zerolog.Logger
}

func NewCorrelator(wild WildHandler) *Correlator {
	log := logging.Component("client")
	if wild == nil {
		wild = LogWild(log)
	}
	return &Correlator{table: newPendingTable(), wild: wild, log: log}
}

// Track registers p. It must be called before the request is sent.
func (c *Correlator) Track(p *PendingRequest) error {
	n, err := c.table.add(p)
	if err != nil {
		return err
	}
	observability.SetPendingRequests(n)
	return nil
}

// Lookup returns the pending request for a request msg_id.
func (c *Correlator) Lookup(id string) (*PendingRequest, bool) {
	return c.table.get(id)
}

func (c *Correlator) Pending() []*PendingRequest { return c.table.list() }
func (c *Correlator) Len() int { return c.table.len() }

// Route applies one inbound message. Replies of the wrong type fail their
// request and are passed on to the wild handler as well.
func (c *Correlator) Route(channel string, msg *protocol.Message) {
	parent := msg.ParentID()
	if parent == "" {
		c.wild(channel, msg)
		return
	}
	p, ok := c.table.get(parent)
	if !ok {
		c.wild(channel, msg)
		return
	}

	switch {
	case msg.Type != nil && msg.Type.IsReply():
		if !p.expected.Matches(msg.Type) {
			c.log.Warn().Msgf("client.Correlator.Route request=%q expected=%q got=%q", p.ID(), p.expected.Name(), msg.TypeName())
			c.Fail(p.ID(), &ProtocolError{RequestID: p.ID(), Expected: p.expected.Name(), Got: msg.TypeName()})
			c.wild(channel, msg)
			return
		}
		if p.observeReply(msg) {
			c.settle(p)
		}
	case msg.Type == protocol.MsgStatus:
		status, _ := msg.Content.(*protocol.Status)
		if status != nil && status.ExecutionState == protocol.StateIdle && p.observeIdle() {
			c.settle(p)
		}
	default:
		p.deliver(msg)
	}
}

// Fail settles one request with err and removes it.
func (c *Correlator) Fail(id string, err error) bool {
	p, ok := c.table.get(id)
	if !ok {
		return false
	}
	c.remove(id)
	return p.fail(err)
}

// FailAll settles every pending request with err and clears the table.
// Later Track calls fail with err, so no request can slip in after it.
func (c *Correlator) FailAll(err error) int {
	items := c.table.drain(err)
	observability.SetPendingRequests(0)
	n := 0
	for _, p := range items {
		if p.fail(err) {
			n++
		}
	}
	if n > 0 {
		c.log.Error().Err(err).Msgf("client.Correlator.FailAll failed=%d", n)
	}
	return n
}

func (c *Correlator) settle(p *PendingRequest) {
	c.remove(p.ID())
	p.complete()
}

func (c *Correlator) remove(id string) {
	if ok, n := c.table.remove(id); ok {
		observability.SetPendingRequests(n)
	}
}
