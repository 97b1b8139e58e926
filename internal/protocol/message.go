package protocol

// Message is one decoded or to-be-encoded wire message. Content holds a
// pointer to the shape registered for Type, *ErrorReply for error variants,
// or json.RawMessage for unknown types.
type Message struct {
	Identities   [][]byte
	Header       Header
	ParentHeader *Header
	Metadata     map[string]any
	Content      any
	Blobs        [][]byte

	Type *MessageType
}

// NewMessage builds an unparented message, as a client does for a request.
func NewMessage(typ *MessageType, content any, session, username string) *Message {
	return &Message{
		Header:  NewHeader(typ.Name(), session, username),
		Content: content,
		Type:    typ,
	}
}

// NewReply builds a message caused by parent. Routing identities and the
// session are carried over.
func NewReply(parent *Message, typ *MessageType, content any) *Message {
	msg := NewBroadcast(parent, typ, content)
	if parent != nil && len(parent.Identities) > 0 {
		msg.Identities = append([][]byte(nil), parent.Identities...)
	}
	return msg
}

// NewBroadcast builds a message caused by parent without routing identities,
// for IOPub.
func NewBroadcast(parent *Message, typ *MessageType, content any) *Message {
	msg := &Message{Content: content, Type: typ}
	if parent == nil {
		msg.Header = NewHeader(typ.Name(), "", "")
		return msg
	}
	msg.Header = NewHeader(typ.Name(), parent.Header.Session, parent.Header.Username)
	ph := parent.Header
	msg.ParentHeader = &ph
	return msg
}

// ID returns the header message id.
func (m *Message) ID() string { return m.Header.MsgID }

// ParentID returns the parent message id, or "" when unparented.
func (m *Message) ParentID() string {
	if m.ParentHeader == nil {
		return ""
	}
	return m.ParentHeader.MsgID
}

// TypeName is the wire name, which survives even for Unknown types.
func (m *Message) TypeName() string {
	if m.Header.MsgType != "" {
		return m.Header.MsgType
	}
	if m.Type != nil {
		return m.Type.Name()
	}
	return ""
}

// IsError reports whether the message decoded to an error variant.
func (m *Message) IsError() bool {
	return m.Type != nil && m.Type.IsError()
}
