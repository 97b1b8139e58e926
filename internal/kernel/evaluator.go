package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/jupyterwire/internal/channels"
	"github.com/danmuck/jupyterwire/internal/comm"
	"github.com/danmuck/jupyterwire/internal/protocol"
)

var (
	ErrStdinNotAllowed = errors.New("kernel: request does not allow stdin")
)

// Evaluator is the language backend.
type Evaluator interface {
	LanguageInfo() protocol.LanguageInfo
	// Eval runs code. A nil or empty bundle publishes no execute_result.
	// ctx is cancelled when the kernel is interrupted.
	Eval(ctx context.Context, ec *ExecContext, code string) (protocol.MIMEBundle, error)
	Inspect(code string, cursor, detail int) (protocol.MIMEBundle, bool, error)
	Complete(code string, cursor int) (Completion, error)
	// IsComplete returns one of the protocol.Complete* statuses and, for
	// incomplete code, the indent of the next line.
	IsComplete(code string) (status, indent string)
}

// Interrupter is implemented by evaluators that can stop work on their own.
type Interrupter interface {
	Interrupt() error
}

// Shutdowner is implemented by evaluators with cleanup to run before the
// kernel exits.
type Shutdowner interface {
	Shutdown(restart bool) error
}

// Completion is an Evaluator's completion result. A zero Start and End
// select [cursor, cursor].
type Completion struct {
	Matches  []string
	Start    int
	End      int
	Metadata map[string]any
}

// EvalError is an execution failure with a language-level name.
type EvalError struct {
	EName     string
	EValue    string
	Traceback []string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %s", e.EName, e.EValue)
}

func asEvalError(err error) *EvalError {
	var evalErr *EvalError
	if errors.As(err, &evalErr) {
		return evalErr
	}
	if errors.Is(err, context.Canceled) {
		return &EvalError{EName: "KeyboardInterrupt", EValue: "interrupted"}
	}
	return &EvalError{EName: "Error", EValue: err.Error()}
}

// ExecContext is what an Evaluator sees of the request being executed.
type ExecContext struct {
	Request        *protocol.ExecuteRequest
	ExecutionCount int
	Stdout         io.Writer
	Stderr         io.Writer

	env   *channels.ReplyEnvironment
	comms *comm.Manager
}

func newExecContext(env *channels.ReplyEnvironment, comms *comm.Manager, req *protocol.ExecuteRequest, count int) *ExecContext {
	return &ExecContext{
		Request:        req,
		ExecutionCount: count,
		Stdout:         &streamWriter{env: env, name: protocol.StreamStdout},
		Stderr:         &streamWriter{env: env, name: protocol.StreamStderr},
		env:            env,
		comms:          comms,
	}
}

// Input reads a line from the frontend.
func (ec *ExecContext) Input(ctx context.Context, prompt string) (string, error) {
	return ec.input(ctx, prompt, false)
}

// Password reads a line from the frontend without echo.
func (ec *ExecContext) Password(ctx context.Context, prompt string) (string, error) {
	return ec.input(ctx, prompt, true)
}

func (ec *ExecContext) input(ctx context.Context, prompt string, password bool) (string, error) {
	if !ec.Request.AllowStdin {
		return "", ErrStdinNotAllowed
	}
	return ec.env.Input(ctx, prompt, password)
}

func (ec *ExecContext) Display(data protocol.MIMEBundle, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return ec.env.Display(&protocol.DisplayData{Data: data, Metadata: metadata})
}

func (ec *ExecContext) ClearOutput(wait bool) error {
	return ec.env.PublishContent(protocol.MsgClearOutput, &protocol.ClearOutput{Wait: wait})
}

// Comms is the kernel's comm manager. Comm traffic sent during Eval is
// parented to the execute_request.
func (ec *ExecContext) Comms() *comm.Manager { return ec.comms }

// streamWriter publishes each Write as one stream message.
type streamWriter struct {
	env  *channels.ReplyEnvironment
	name string
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := w.env.WriteStream(w.name, string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
