package comm

import (
	"fmt"

	"github.com/danmuck/jupyterwire/internal/channels"
	"github.com/danmuck/jupyterwire/internal/logging"
	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/rs/zerolog"
)

// Server applies inbound comm traffic to a Manager. Kernels route shell
// messages to it through Register; clients call Handle for iopub traffic.
type Server struct {
	manager *Manager
	log     zerolog.Logger
}

func NewServer(m *Manager) *Server {
	return &Server{manager: m, log: logging.Component("comm")}
}

func (s *Server) Manager() *Manager { return s.manager }

// Open handles comm_open. A missing target is answered with comm_close at
// once; that is the expected negative outcome, not an error.
func (s *Server) Open(msg *protocol.Message) error {
	open, err := protocol.ContentAs[protocol.CommOpen](msg)
	if err != nil {
		return err
	}
	if open.CommID == "" {
		return ErrMissingCommID
	}
	target, ok := s.manager.Target(open.TargetName)
	if !ok {
		s.log.Debug().Msgf("comm.Server.Open no target=%q id=%q, closing", open.TargetName, open.CommID)
		return s.reject(msg, open.CommID)
	}
	c, err := target.CreateComm(s.manager, open.CommID, open.TargetName, msg)
	if err == nil && c == nil {
		err = ErrNilComm
	}
	if err != nil {
		s.log.Warn().Err(err).Msgf("comm.Server.Open target=%q id=%q failed", open.TargetName, open.CommID)
		if rerr := s.reject(msg, open.CommID); rerr != nil {
			return fmt.Errorf("%w (close: %v)", err, rerr)
		}
		return err
	}
	s.manager.register(c)
	s.log.Debug().Msgf("comm.Server.Open id=%q target=%q", open.CommID, open.TargetName)
	return nil
}

// Message handles comm_msg. Unknown ids are dropped.
func (s *Server) Message(msg *protocol.Message) error {
	body, err := protocol.ContentAs[protocol.CommMsg](msg)
	if err != nil {
		return err
	}
	c, ok := s.manager.Comm(body.CommID)
	if !ok {
		s.log.Debug().Msgf("comm.Server.Message unknown id=%q dropped", body.CommID)
		return nil
	}
	c.deliver(msg, body.Data)
	return nil
}

// Close handles comm_close. The handler sees sending=false.
func (s *Server) Close(msg *protocol.Message) error {
	body, err := protocol.ContentAs[protocol.CommClose](msg)
	if err != nil {
		return err
	}
	c, ok := s.manager.unregister(body.CommID)
	if !ok {
		s.log.Debug().Msgf("comm.Server.Close unknown id=%q dropped", body.CommID)
		return nil
	}
	if c.markClosed() {
		c.handler.OnClose(c, msg, body.Data, false)
	}
	return nil
}

// Handle routes any comm message and reports whether msg was one.
func (s *Server) Handle(msg *protocol.Message) (bool, error) {
	var fn func(*protocol.Message) error
	switch msg.Type {
	case protocol.MsgCommOpen:
		fn = s.Open
	case protocol.MsgCommMsg:
		fn = s.Message
	case protocol.MsgCommClose:
		fn = s.Close
	default:
		return false, nil
	}
	s.manager.PushContext(msg)
	defer s.manager.DropContext(msg)
	return true, fn(msg)
}

// Register installs kernel-mode handlers on conn. Each one runs inside a
// busy/idle bracket with msg as the outgoing comm context.
func (s *Server) Register(conn *channels.Connection) {
	wrap := func(fn func(*protocol.Message) error) channels.Handler {
		return func(env *channels.ReplyEnvironment, msg *protocol.Message) error {
			if err := env.SetBusyDeferIdle(); err != nil {
				return err
			}
			s.manager.PushContext(msg)
			defer s.manager.DropContext(msg)
			return fn(msg)
		}
	}
	conn.SetHandler(protocol.MsgCommOpen, wrap(s.Open))
	conn.SetHandler(protocol.MsgCommMsg, wrap(s.Message))
	conn.SetHandler(protocol.MsgCommClose, wrap(s.Close))
	conn.SetHandler(protocol.MsgCommInfoRequest, s.handleInfo)
}

func (s *Server) handleInfo(env *channels.ReplyEnvironment, msg *protocol.Message) error {
	if err := env.SetBusyDeferIdle(); err != nil {
		return err
	}
	req, err := protocol.ContentAs[protocol.CommInfoRequest](msg)
	if err != nil {
		return env.ReplyError(protocol.MsgCommInfoReply, protocol.NewErrorReply("ContentError", err.Error(), nil))
	}
	return env.ReplyContent(protocol.MsgCommInfoReply, &protocol.CommInfoReply{
		Status: protocol.StatusOK,
		Comms:  s.manager.Info(req.TargetName),
	})
}

func (s *Server) reject(ctx *protocol.Message, id string) error {
	client := s.manager.Client()
	if client == nil {
		return ErrNotConnected
	}
	return client.SendClose(ctx, id, nil)
}
