package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/jupyterwire/internal/protocol/frame"
	"github.com/danmuck/jupyterwire/internal/protocol/signing"
	"github.com/danmuck/jupyterwire/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func signedCodec(t *testing.T, key string) *Codec {
	t.Helper()
	signer, err := signing.New("hmac-sha256", []byte(key))
	require.NoError(t, err)
	return NewCodec(DefaultRegistry(), signer)
}

func sampleRequest() *Message {
	parent := NewMessage(MsgKernelInfoRequest, &KernelInfoRequest{}, "sess-1", "alice")
	parent.Identities = [][]byte{[]byte("router-id")}
	msg := NewReply(parent, MsgExecuteRequest, &ExecuteRequest{Code: "print(1)", StoreHistory: true})
	msg.Metadata = map[string]any{"cell": "c1"}
	msg.Blobs = [][]byte{{0xde, 0xad}, {0xbe, 0xef}}
	return msg
}

func TestCodecRoundTrip(t *testing.T) {
	testlog.Start(t)
	codec := signedCodec(t, "secret")
	in := sampleRequest()

	frames, err := codec.Encode(in)
	require.NoError(t, err)

	out, err := codec.Decode(frames)
	require.NoError(t, err)

	require.Equal(t, in.Identities, out.Identities)
	require.Equal(t, in.Header.MsgID, out.Header.MsgID)
	require.Equal(t, in.Header.Session, out.Header.Session)
	require.Equal(t, in.Header.Username, out.Header.Username)
	require.Equal(t, "execute_request", out.Header.MsgType)
	require.Equal(t, Version, out.Header.Version)
	require.WithinDuration(t, in.Header.Date.Time, out.Header.Date.Time, time.Microsecond)
	require.NotNil(t, out.ParentHeader)
	require.Equal(t, in.ParentHeader.MsgID, out.ParentHeader.MsgID)
	require.Equal(t, "c1", out.Metadata["cell"])
	require.Same(t, MsgExecuteRequest, out.Type)
	require.Equal(t, in.Content, out.Content)
	require.Equal(t, in.Blobs, out.Blobs)
}

func TestCodecTamperDetection(t *testing.T) {
	testlog.Start(t)
	in := sampleRequest()

	// header, parent, metadata, content sit after identity + delimiter + signature
	for offset, name := range []string{"header", "parent", "metadata", "content"} {
		t.Run(name, func(t *testing.T) {
			signed := signedCodec(t, "secret")
			frames, err := signed.Encode(in)
			require.NoError(t, err)
			idx := len(in.Identities) + 2 + offset
			tampered := append([]byte(nil), frames[idx]...)
			tampered = append(tampered[:len(tampered)-1], []byte(`,"x":1}`)...)
			frames[idx] = tampered

			_, err = signed.Decode(frames)
			require.ErrorIs(t, err, ErrInvalidSignature)

			unsigned := NewCodec(DefaultRegistry(), signing.Unsigned())
			_, err = unsigned.Decode(frames)
			require.NoError(t, err)
		})
	}
}

func TestCodecUnsignedEmitsEmptySignature(t *testing.T) {
	testlog.Start(t)
	codec := NewCodec(nil, nil)
	frames, err := codec.Encode(NewMessage(MsgStatus, &Status{ExecutionState: StateIdle}, "s", ""))
	require.NoError(t, err)
	require.Equal(t, frame.Delimiter, frames[0])
	require.Empty(t, frames[1])
	require.Equal(t, "{}", string(frames[3]))
	require.Equal(t, "{}", string(frames[4]))
}

func TestCodecErrorStatusSwitchesToErrorVariant(t *testing.T) {
	testlog.Start(t)
	codec := signedCodec(t, "k")
	reply := NewMessage(MsgExecuteReply.ErrorVariant(), NewErrorReply("NameError", "x is not defined", []string{"line 1"}), "s", "")

	frames, err := codec.Encode(reply)
	require.NoError(t, err)
	out, err := codec.Decode(frames)
	require.NoError(t, err)

	require.True(t, out.IsError())
	require.Same(t, MsgExecuteReply.ErrorVariant(), out.Type)
	require.True(t, MsgExecuteReply.Matches(out.Type))
	require.Equal(t, "execute_reply", out.Header.MsgType)

	union, err := AsReply[ExecuteReply](out)
	require.NoError(t, err)
	require.True(t, union.IsError())
	require.Equal(t, "NameError", union.Err.EName)
	require.Equal(t, []string{"line 1"}, union.Err.Traceback)
}

func TestCodecOkReplyStaysNominal(t *testing.T) {
	testlog.Start(t)
	codec := signedCodec(t, "k")
	frames, err := codec.Encode(NewMessage(MsgExecuteReply, &ExecuteReply{Status: StatusOK, ExecutionCount: 3}, "s", ""))
	require.NoError(t, err)
	out, err := codec.Decode(frames)
	require.NoError(t, err)
	require.Same(t, MsgExecuteReply, out.Type)

	union, err := AsReply[ExecuteReply](out)
	require.NoError(t, err)
	require.False(t, union.IsError())
	require.Equal(t, 3, union.Ok.ExecutionCount)
}

func TestCodecUnknownTypeKeepsRawContent(t *testing.T) {
	testlog.Start(t)
	codec := NewCodec(nil, nil)
	header, _ := json.Marshal(NewHeader("debug_request", "s", ""))
	frames := [][]byte{frame.Delimiter, nil, header, []byte("{}"), []byte("{}"), []byte(`{"seq":1}`)}

	out, err := codec.Decode(frames)
	require.NoError(t, err)
	require.Same(t, Unknown, out.Type)
	require.Equal(t, "debug_request", out.TypeName())
	require.JSONEq(t, `{"seq":1}`, string(out.Content.(json.RawMessage)))
	require.Nil(t, out.ParentHeader)
}

func TestCodecMalformedFrames(t *testing.T) {
	testlog.Start(t)
	codec := NewCodec(nil, nil)
	header, _ := json.Marshal(NewHeader("execute_request", "s", ""))

	_, err := codec.Decode([][]byte{frame.Delimiter, nil, []byte("{nope"), []byte("{}"), []byte("{}"), []byte("{}")})
	require.ErrorIs(t, err, ErrMalformedHeader)

	_, err = codec.Decode([][]byte{frame.Delimiter, nil, header, []byte("[1]"), []byte("{}"), []byte("{}")})
	require.ErrorIs(t, err, ErrMalformedParent)

	_, err = codec.Decode([][]byte{frame.Delimiter, nil, header, []byte("{}"), []byte("{}"), []byte(`{"code":5}`)})
	require.ErrorIs(t, err, ErrMalformedContent)

	_, err = codec.Decode([][]byte{[]byte("no"), []byte("delimiter")})
	require.True(t, errors.Is(err, frame.ErrMissingDelimiter))
}

func TestTimestampAcceptsNaiveDates(t *testing.T) {
	testlog.Start(t)
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2024-03-01T10:11:12.123456"`), &ts))
	require.Equal(t, 2024, ts.Year())
	require.NoError(t, json.Unmarshal([]byte(`"garbage"`), &ts))
	require.True(t, ts.IsZero())
}

func TestCodecVerifiesRawEmptyFrames(t *testing.T) {
	testlog.Start(t)
	signer, err := signing.New("hmac-sha256", []byte("secret"))
	require.NoError(t, err)
	codec := NewCodec(DefaultRegistry(), signer)

	header, err := json.Marshal(NewHeader(MsgKernelInfoRequest.Name(), "sess", "fe"))
	require.NoError(t, err)
	parts := [][]byte{header, {}, {}, []byte("{}")}
	frames := [][]byte{frame.Delimiter, []byte(signer.Sign(parts...))}
	frames = append(frames, parts...)

	msg, err := codec.Decode(frames)
	require.NoError(t, err)
	require.Same(t, MsgKernelInfoRequest, msg.Type)
	require.Nil(t, msg.ParentHeader)
	require.Nil(t, msg.Metadata)

	// a signature over the defaulted frames does not cover the raw ones
	normalized := [][]byte{header, []byte("{}"), []byte("{}"), []byte("{}")}
	frames[1] = []byte(signer.Sign(normalized...))
	_, err = codec.Decode(frames)
	require.ErrorIs(t, err, ErrInvalidSignature)
}
