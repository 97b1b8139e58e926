package protocol

import "fmt"

// Reply is the decoded content of a reply message: exactly one of Ok or Err
// is set.
type Reply[T any] struct {
	Ok  *T
	Err *ErrorReply
}

// IsError reports whether the reply carried status "error".
func (r Reply[T]) IsError() bool { return r.Err != nil }

// AsReply splits msg content into the ok/error union.
func AsReply[T any](msg *Message) (Reply[T], error) {
	if msg == nil {
		return Reply[T]{}, fmt.Errorf("%w: nil message", ErrContentMismatch)
	}
	if errReply, ok := msg.Content.(*ErrorReply); ok {
		return Reply[T]{Err: errReply}, nil
	}
	v, err := ContentAs[T](msg)
	if err != nil {
		return Reply[T]{}, err
	}
	return Reply[T]{Ok: v}, nil
}

// ContentAs returns msg content as *T.
func ContentAs[T any](msg *Message) (*T, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrContentMismatch)
	}
	switch v := msg.Content.(type) {
	case *T:
		return v, nil
	case T:
		return &v, nil
	default:
		var want *T
		return nil, fmt.Errorf("%w: %s carries %T, want %T", ErrContentMismatch, msg.TypeName(), msg.Content, want)
	}
}
