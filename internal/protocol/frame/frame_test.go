package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/jupyterwire/internal/testutil/testlog"
)

func TestSplitFramesRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := Envelope{
		Identities:   [][]byte{[]byte("id-a"), []byte("id-b")},
		Signature:    []byte("abcd"),
		Header:       []byte(`{"msg_id":"1"}`),
		ParentHeader: []byte(`{"msg_id":"0"}`),
		Metadata:     []byte(`{"k":1}`),
		Content:      []byte(`{"code":"1+1"}`),
		Blobs:        [][]byte{{0x00, 0x01}, []byte("<IDS|MSG>")},
	}
	frames := in.Frames()
	if len(frames) != 2+1+BodyFrames+2 {
		t.Fatalf("unexpected frame count: %d", len(frames))
	}
	if !bytes.Equal(frames[2], Delimiter) {
		t.Fatalf("delimiter not after identities: %q", frames[2])
	}

	out, err := Split(frames)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(out.Identities) != 2 || string(out.Identities[1]) != "id-b" {
		t.Fatalf("identities mismatch: %q", out.Identities)
	}
	if string(out.Signature) != "abcd" || string(out.Content) != `{"code":"1+1"}` {
		t.Fatalf("body mismatch: %+v", out)
	}
	if len(out.Blobs) != 2 || !bytes.Equal(out.Blobs[1], Delimiter) {
		t.Fatalf("blob mismatch: %q", out.Blobs)
	}
}

func TestFramesRenderAbsentPartsAsEmptyObject(t *testing.T) {
	testlog.Start(t)
	frames := Envelope{Header: []byte(`{}`)}.Frames()
	if len(frames) != 1+BodyFrames {
		t.Fatalf("unexpected frame count: %d", len(frames))
	}
	for i, name := range []string{"parent", "metadata", "content"} {
		if string(frames[3+i]) != "{}" {
			t.Fatalf("%s frame = %q, want {}", name, frames[3+i])
		}
	}
}

func TestSplitKeepsEmptyFramesRaw(t *testing.T) {
	testlog.Start(t)
	frames := [][]byte{Delimiter, []byte("sig"), []byte(`{"msg_id":"1"}`), nil, {}, []byte(`{}`)}
	env, err := Split(frames)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	parts := env.SignedParts()
	if len(parts[1]) != 0 || len(parts[2]) != 0 {
		t.Fatalf("signed parts were normalized: %q", parts)
	}
	filled := env.WithDefaults()
	if string(filled.ParentHeader) != "{}" || string(filled.Metadata) != "{}" {
		t.Fatalf("defaults not applied: %+v", filled)
	}
}

func TestSplitErrors(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name   string
		frames [][]byte
		want   error
	}{
		{name: "no delimiter", frames: [][]byte{[]byte("a"), []byte("b")}, want: ErrMissingDelimiter},
		{name: "short body", frames: [][]byte{Delimiter, []byte(""), []byte("{}")}, want: ErrShortEnvelope},
		{name: "empty header", frames: [][]byte{Delimiter, nil, nil, []byte("{}"), []byte("{}"), []byte("{}")}, want: ErrEmptyHeader},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Split(tc.frames); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPartsOnlyLastFrameIsTerminal(t *testing.T) {
	testlog.Start(t)
	frames := Envelope{Header: []byte(`{}`), Blobs: [][]byte{[]byte("b1")}}.Frames()
	parts := Parts(frames)
	for i, p := range parts[:len(parts)-1] {
		if !p.More {
			t.Fatalf("frame %d must be flagged more", i)
		}
	}
	if parts[len(parts)-1].More {
		t.Fatalf("last frame must be terminal")
	}
	if string(parts[len(parts)-1].Data) != "b1" {
		t.Fatalf("last frame should be the last blob, got %q", parts[len(parts)-1].Data)
	}
}
