package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danmuck/jupyterwire/internal/protocol/frame"
	"github.com/danmuck/jupyterwire/internal/protocol/signing"
)

// Codec converts between Message and signed frame sequences. It holds no
// per-socket state and is safe for concurrent use.
type Codec struct {
	registry *Registry
	signer   *signing.Signer
}

func NewCodec(registry *Registry, signer *signing.Signer) *Codec {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if signer == nil {
		signer = signing.Unsigned()
	}
	return &Codec{registry: registry, signer: signer}
}

func (c *Codec) Registry() *Registry { return c.registry }

// Encode serializes msg. The returned frames are in transport order; every
// frame but the last must be sent with the more flag (see frame.Parts).
func (c *Codec) Encode(msg *Message) ([][]byte, error) {
	if msg == nil || msg.Type == nil {
		return nil, ErrMissingType
	}
	if msg.Header.MsgType == "" {
		msg.Header.MsgType = msg.Type.Name()
	}
	header, err := json.Marshal(msg.Header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	parent := []byte("{}")
	if msg.ParentHeader != nil {
		if parent, err = json.Marshal(msg.ParentHeader); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedParent, err)
		}
	}
	metadata := []byte("{}")
	if len(msg.Metadata) > 0 {
		if metadata, err = json.Marshal(msg.Metadata); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
		}
	}
	content, err := encodeContent(msg.Content)
	if err != nil {
		return nil, err
	}

	env := frame.Envelope{
		Identities:   msg.Identities,
		Header:       header,
		ParentHeader: parent,
		Metadata:     metadata,
		Content:      content,
		Blobs:        msg.Blobs,
	}
	env = env.WithDefaults()
	env.Signature = []byte(c.signer.Sign(env.SignedParts()...))
	return env.Frames(), nil
}

// Decode parses and verifies frames. The signature covers the raw frames;
// empty parent, metadata and content frames decode as {}. A signature
// mismatch returns ErrInvalidSignature and no message.
func (c *Codec) Decode(frames [][]byte) (*Message, error) {
	env, err := frame.Split(frames)
	if err != nil {
		return nil, err
	}
	if err := c.signer.Verify(env.Signature, env.SignedParts()...); err != nil {
		if errors.Is(err, signing.ErrInvalidSignature) || errors.Is(err, signing.ErrMalformedHex) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, err
	}
	env = env.WithDefaults()

	msg := &Message{
		Identities: env.Identities,
		Blobs:      env.Blobs,
	}
	if err := json.Unmarshal(env.Header, &msg.Header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if msg.Header.MsgType == "" {
		return nil, ErrMissingType
	}
	parent, err := decodeParent(env.ParentHeader)
	if err != nil {
		return nil, err
	}
	msg.ParentHeader = parent
	if err := json.Unmarshal(env.Metadata, &msg.Metadata); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}
	if len(msg.Metadata) == 0 {
		msg.Metadata = nil
	}

	typ := c.registry.Lookup(msg.Header.MsgType)
	content, typ, err := decodeContent(typ, env.Content)
	if err != nil {
		return nil, err
	}
	msg.Type = typ
	msg.Content = content
	return msg, nil
}

func decodeParent(raw []byte) (*Header, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var h Header
	if err := json.Unmarshal(trimmed, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedParent, err)
	}
	if h.IsZero() {
		return nil, nil
	}
	return &h, nil
}

// decodeContent resolves the content shape. Replies whose status is "error"
// decode to *ErrorReply and switch to the error variant of typ.
func decodeContent(typ *MessageType, raw []byte) (any, *MessageType, error) {
	if typ == Unknown {
		return json.RawMessage(append([]byte(nil), raw...)), typ, nil
	}
	if typ.IsReply() {
		var head struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrMalformedContent, typ.Name(), err)
		}
		if head.Status == StatusError {
			typ = typ.ErrorVariant()
		}
	}
	content := typ.NewContent()
	if err := json.Unmarshal(raw, content); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrMalformedContent, typ.Name(), err)
	}
	return content, typ, nil
}

func encodeContent(content any) ([]byte, error) {
	switch v := content.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		return v, nil
	}
	out, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	return out, nil
}
