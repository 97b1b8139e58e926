package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/danmuck/jupyterwire/internal/protocol"
)

// IOSink receives the broadcasts caused by one request and answers its
// input requests.
type IOSink interface {
	Stream(name, text string)
	Display(data *protocol.DisplayData, update bool)
	Result(res *protocol.ExecuteResult)
	Error(content *protocol.ErrorContent)
	ClearOutput(wait bool)
	ReadInput(ctx context.Context, prompt string, password bool) (string, error)
}

// NopSink discards output and has no input. Embed it to implement part of
// IOSink.
type NopSink struct{}

func (NopSink) Stream(string, string) {}
func (NopSink) Display(*protocol.DisplayData, bool) {}
func (NopSink) Result(*protocol.ExecuteResult) {}
func (NopSink) Error(*protocol.ErrorContent) {}
func (NopSink) ClearOutput(bool) {}
func (NopSink) ReadInput(context.Context, string, bool) (string, error) {
	return "", ErrNoInput
}

// WriterSink renders output as text. Rich bundles fall back to text/plain.
type WriterSink struct {
	mu  sync.Mutex
	out io.Writer
	err io.Writer
	in  *bufio.Reader
}

// NewWriterSink writes stdout and results to out, stderr and errors to
// errOut, and reads input lines from in. in may be nil.
func NewWriterSink(out, errOut io.Writer, in io.Reader) *WriterSink {
	s := &WriterSink{out: out, err: errOut}
	if in != nil {
		s.in = bufio.NewReader(in)
	}
	return s
}

func (s *WriterSink) Stream(name, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == protocol.StreamStderr {
		fmt.Fprint(s.err, text)
		return
	}
	fmt.Fprint(s.out, text)
}

func (s *WriterSink) Display(data *protocol.DisplayData, _ bool) {
	s.writeBundle(data.Data)
}

func (s *WriterSink) Result(res *protocol.ExecuteResult) {
	s.writeBundle(res.Data)
}

func (s *WriterSink) Error(content *protocol.ErrorContent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(content.Traceback) > 0 {
		fmt.Fprintln(s.err, strings.Join(content.Traceback, "\n"))
		return
	}
	fmt.Fprintf(s.err, "%s: %s\n", content.EName, content.EValue)
}

func (s *WriterSink) ClearOutput(bool) {}

func (s *WriterSink) ReadInput(ctx context.Context, prompt string, _ bool) (string, error) {
	if s.in == nil {
		return "", ErrNoInput
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	fmt.Fprint(s.out, prompt)
	s.mu.Unlock()
	line, err := s.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *WriterSink) writeBundle(bundle protocol.MIMEBundle) {
	text, ok := bundle["text/plain"].(string)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, text)
}
