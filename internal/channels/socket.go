// Package channels binds the five Jupyter channel roles to transport sockets
// and dispatches inbound requests to handlers.
//
// Ownership boundary:
// - codec-bound sockets (Socket)
// - per-role receive loops (shell, control, heartbeat, stdin) and iopub
// - Connection: handler table, lifecycle
// - ReplyEnvironment: per-dispatch publish/reply/defer discipline
package channels

import (
	"context"
	"errors"

	"github.com/danmuck/jupyterwire/internal/logging"
	"github.com/danmuck/jupyterwire/internal/observability"
	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/danmuck/jupyterwire/internal/protocol/frame"
	"github.com/danmuck/jupyterwire/internal/transport"
	"github.com/rs/zerolog"
)

// Channel role names.
const (
	RoleShell     = "shell"
	RoleControl   = "control"
	RoleStdin     = "stdin"
	RoleIOPub     = "iopub"
	RoleHeartbeat = "hb"
)

// Socket pairs one transport socket with the message codec.
type Socket struct {
	name  string
	raw   transport.Socket
	codec *protocol.Codec
	log   zerolog.Logger
}

func NewSocket(name string, raw transport.Socket, codec *protocol.Codec) *Socket {
	return &Socket{
		name:  name,
		raw:   raw,
		codec: codec,
		log:   logging.Component("channels").With().Str("channel", name).Logger(),
	}
}

func (s *Socket) Name() string { return s.name }
func (s *Socket) Raw() transport.Socket { return s.raw }
func (s *Socket) Codec() *protocol.Codec { return s.codec }
func (s *Socket) Registry() *protocol.Registry { return s.codec.Registry() }

// Send encodes and writes msg.
func (s *Socket) Send(msg *protocol.Message) error {
	frames, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}
	if err := s.raw.Send(frames); err != nil {
		return err
	}
	observability.RecordMessage(s.name, observability.DirectionOut, msg.TypeName())
	s.log.Trace().Msgf("channels.Socket.Send msg_type=%q msg_id=%q", msg.TypeName(), msg.ID())
	return nil
}

// Poll returns one decoded message if one is buffered. A decode failure
// consumes the offending frames and is returned as the error.
func (s *Socket) Poll() (*protocol.Message, bool, error) {
	frames, ok, err := s.raw.Poll()
	if err != nil || !ok {
		return nil, false, err
	}
	msg, err := s.decode(frames)
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// Recv blocks for the next message that decodes. Undecodable frames are
// logged and skipped.
func (s *Socket) Recv(ctx context.Context) (*protocol.Message, error) {
	for {
		frames, err := s.raw.Recv(ctx)
		if err != nil {
			return nil, err
		}
		msg, err := s.decode(frames)
		if err != nil {
			s.log.Warn().Err(err).Msg("channels.Socket.Recv discarded frames")
			continue
		}
		return msg, nil
	}
}

func (s *Socket) Close() error { return s.raw.Close() }

func (s *Socket) decode(frames [][]byte) (*protocol.Message, error) {
	msg, err := s.codec.Decode(frames)
	if err != nil {
		observability.RecordDecodeFailure(s.name, decodeReason(err))
		return nil, err
	}
	observability.RecordMessage(s.name, observability.DirectionIn, msg.TypeName())
	return msg, nil
}

func decodeReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrInvalidSignature):
		return "signature"
	case errors.Is(err, frame.ErrMissingDelimiter),
		errors.Is(err, frame.ErrShortEnvelope),
		errors.Is(err, frame.ErrEmptyHeader):
		return "framing"
	case errors.Is(err, protocol.ErrMalformedHeader),
		errors.Is(err, protocol.ErrMalformedParent),
		errors.Is(err, protocol.ErrMissingType):
		return "header"
	default:
		return "content"
	}
}
