// Package frame owns the multipart envelope layout of one wire message:
//
//	[identity]* <IDS|MSG> signature header parent_header metadata content [blob]*
//
// It does not interpret JSON or verify signatures.
package frame

import (
	"bytes"
	"errors"
	"fmt"
)

// Delimiter separates routing identities from the signed body.
var Delimiter = []byte("<IDS|MSG>")

var emptyObject = []byte("{}")

// BodyFrames is the count of frames following the delimiter before blobs:
// signature, header, parent header, metadata, content.
const BodyFrames = 5

var (
	ErrMissingDelimiter = errors.New("frame: missing <IDS|MSG> delimiter")
	ErrShortEnvelope    = errors.New("frame: envelope has too few frames")
	ErrEmptyHeader      = errors.New("frame: empty header frame")
)

// Envelope is one message split into its raw frames.
type Envelope struct {
	Identities   [][]byte
	Signature    []byte
	Header       []byte
	ParentHeader []byte
	Metadata     []byte
	Content      []byte
	Blobs        [][]byte
}

// SignedParts returns the four frames covered by the signature, in order,
// exactly as carried.
func (e Envelope) SignedParts() [][]byte {
	return [][]byte{e.Header, e.ParentHeader, e.Metadata, e.Content}
}

// WithDefaults returns a copy with absent parent header, metadata and
// content rendered as "{}".
func (e Envelope) WithDefaults() Envelope {
	e.ParentHeader = orEmptyObject(e.ParentHeader)
	e.Metadata = orEmptyObject(e.Metadata)
	e.Content = orEmptyObject(e.Content)
	return e
}

// Frames flattens the envelope into transport order. Absent parts go out as
// "{}"; sign WithDefaults so the signature covers what is sent.
func (e Envelope) Frames() [][]byte {
	n := e.WithDefaults()
	out := make([][]byte, 0, len(e.Identities)+1+BodyFrames+len(e.Blobs))
	out = append(out, e.Identities...)
	out = append(out, Delimiter, e.Signature)
	out = append(out, n.SignedParts()...)
	out = append(out, e.Blobs...)
	return out
}

// Split reads identities up to the delimiter, then the five body frames, then
// treats every remaining frame as a blob. Body frames are kept raw.
func Split(frames [][]byte) (Envelope, error) {
	idx := -1
	for i, f := range frames {
		if bytes.Equal(f, Delimiter) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Envelope{}, ErrMissingDelimiter
	}
	body := frames[idx+1:]
	if len(body) < BodyFrames {
		return Envelope{}, fmt.Errorf("%w: have %d body frames, need %d", ErrShortEnvelope, len(body), BodyFrames)
	}
	if len(body[1]) == 0 {
		return Envelope{}, ErrEmptyHeader
	}
	env := Envelope{
		Signature:    body[0],
		Header:       body[1],
		ParentHeader: body[2],
		Metadata:     body[3],
		Content:      body[4],
	}
	if idx > 0 {
		env.Identities = frames[:idx]
	}
	if len(body) > BodyFrames {
		env.Blobs = body[BodyFrames:]
	}
	return env, nil
}

// Part is one frame with its multipart continuation flag.
type Part struct {
	Data []byte
	More bool
}

// Parts marks every frame except the last as More. A transport that sends
// frames individually must honour these flags or the next reader sees a
// corrupted message boundary.
func Parts(frames [][]byte) []Part {
	out := make([]Part, len(frames))
	for i, f := range frames {
		out[i] = Part{Data: f, More: i < len(frames)-1}
	}
	return out
}

func orEmptyObject(b []byte) []byte {
	if len(b) == 0 {
		return emptyObject
	}
	return b
}
