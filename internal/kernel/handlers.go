package kernel

import (
	"context"
	"fmt"

	"github.com/danmuck/jupyterwire/internal/channels"
	"github.com/danmuck/jupyterwire/internal/protocol"
)

func (k *Kernel) handleKernelInfo(env *channels.ReplyEnvironment, _ *protocol.Message) error {
	links := k.opts.HelpLinks
	if links == nil {
		links = []protocol.HelpLink{}
	}
	return env.ReplyContent(protocol.MsgKernelInfoReply, &protocol.KernelInfoReply{
		Status:                protocol.StatusOK,
		ProtocolVersion:       protocol.Version,
		Implementation:        k.opts.Implementation,
		ImplementationVersion: k.opts.ImplementationVersion,
		LanguageInfo:          k.eval.LanguageInfo(),
		Banner:                k.opts.Banner,
		HelpLinks:             links,
	})
}

func (k *Kernel) handleExecute(env *channels.ReplyEnvironment, msg *protocol.Message) error {
	req, err := protocol.ContentAs[protocol.ExecuteRequest](msg)
	if err != nil {
		return contentError(env, protocol.MsgExecuteReply, err)
	}
	store := req.StoreHistory && !req.Silent
	count := int(k.executionCount.Load())
	if store {
		count = int(k.executionCount.Add(1))
		if k.history != nil {
			if _, err := k.history.Append(req.Code); err != nil {
				k.log.Warn().Err(err).Msg("kernel.execute history append failed")
			}
		}
	}
	if !req.Silent {
		if err := env.PublishContent(protocol.MsgExecuteInput, &protocol.ExecuteInput{Code: req.Code, ExecutionCount: count}); err != nil {
			return err
		}
	}

	ctx, done := k.beginExec()
	k.comms.PushContext(msg)
	result, evalErr := k.evaluate(ctx, newExecContext(env, k.comms, req, count), req.Code)
	k.comms.DropContext(msg)
	done()

	if evalErr != nil {
		e := asEvalError(evalErr)
		traceback := e.Traceback
		if traceback == nil {
			traceback = []string{}
		}
		if err := env.PublishContent(protocol.MsgError, &protocol.ErrorContent{EName: e.EName, EValue: e.EValue, Traceback: traceback}); err != nil {
			return err
		}
		reply := protocol.NewErrorReply(e.EName, e.EValue, traceback)
		reply.ExecutionCount = count
		return env.Defer().ReplyError(protocol.MsgExecuteReply, reply)
	}

	if len(result) > 0 && !req.Silent {
		if err := env.PublishContent(protocol.MsgExecuteResult, &protocol.ExecuteResult{
			ExecutionCount: count,
			Data:           result,
			Metadata:       map[string]any{},
		}); err != nil {
			return err
		}
	}
	return env.Defer().ReplyContent(protocol.MsgExecuteReply, &protocol.ExecuteReply{
		Status:          protocol.StatusOK,
		ExecutionCount:  count,
		UserExpressions: map[string]any{},
		Payload:         []any{},
	})
}

// evaluate runs the evaluator with panics converted to errors.
func (k *Kernel) evaluate(ctx context.Context, ec *ExecContext, code string) (result protocol.MIMEBundle, err error) {
	defer func() {
		if r := recover(); r != nil {
			k.log.Error().Msgf("kernel.execute evaluator panic: %v", r)
			err = &EvalError{EName: "Panic", EValue: fmt.Sprint(r)}
		}
	}()
	return k.eval.Eval(ctx, ec, code)
}

func (k *Kernel) handleInspect(env *channels.ReplyEnvironment, msg *protocol.Message) error {
	req, err := protocol.ContentAs[protocol.InspectRequest](msg)
	if err != nil {
		return contentError(env, protocol.MsgInspectReply, err)
	}
	data, found, err := k.eval.Inspect(req.Code, req.CursorPos, req.DetailLevel)
	if err != nil {
		return replyEvalError(env, protocol.MsgInspectReply, err)
	}
	if data == nil {
		data = protocol.MIMEBundle{}
	}
	return env.ReplyContent(protocol.MsgInspectReply, &protocol.InspectReply{
		Status:   protocol.StatusOK,
		Found:    found,
		Data:     data,
		Metadata: map[string]any{},
	})
}

func (k *Kernel) handleComplete(env *channels.ReplyEnvironment, msg *protocol.Message) error {
	req, err := protocol.ContentAs[protocol.CompleteRequest](msg)
	if err != nil {
		return contentError(env, protocol.MsgCompleteReply, err)
	}
	c, err := k.eval.Complete(req.Code, req.CursorPos)
	if err != nil {
		return replyEvalError(env, protocol.MsgCompleteReply, err)
	}
	if c.Start == 0 && c.End == 0 {
		c.Start, c.End = req.CursorPos, req.CursorPos
	}
	if c.Matches == nil {
		c.Matches = []string{}
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	return env.ReplyContent(protocol.MsgCompleteReply, &protocol.CompleteReply{
		Status:      protocol.StatusOK,
		Matches:     c.Matches,
		CursorStart: c.Start,
		CursorEnd:   c.End,
		Metadata:    c.Metadata,
	})
}

func (k *Kernel) handleIsComplete(env *channels.ReplyEnvironment, msg *protocol.Message) error {
	req, err := protocol.ContentAs[protocol.IsCompleteRequest](msg)
	if err != nil {
		return contentError(env, protocol.MsgIsCompleteReply, err)
	}
	status, indent := k.eval.IsComplete(req.Code)
	reply := &protocol.IsCompleteReply{Status: status}
	switch status {
	case protocol.CompleteYes, protocol.CompleteInvalid, protocol.CompleteNo:
	default:
		reply.Status = protocol.CompleteUnknown
	}
	if reply.Status == protocol.CompleteNo {
		reply.Indent = indent
	}
	return env.ReplyContent(protocol.MsgIsCompleteReply, reply)
}

func (k *Kernel) handleHistory(env *channels.ReplyEnvironment, msg *protocol.Message) error {
	req, err := protocol.ContentAs[protocol.HistoryRequest](msg)
	if err != nil {
		return contentError(env, protocol.MsgHistoryReply, err)
	}
	entries := []protocol.HistoryEntry{}
	if k.history != nil {
		switch req.HistAccessType {
		case protocol.HistoryRange:
			entries, err = k.history.Range(req.Session, req.Start, req.Stop)
		case protocol.HistoryTail:
			entries, err = k.history.Tail(req.N)
		case protocol.HistorySearch:
			entries, err = k.history.Search(req.Pattern, req.N, req.Unique)
		default:
			err = fmt.Errorf("unknown hist_access_type %q", req.HistAccessType)
		}
		if err != nil {
			return replyEvalError(env, protocol.MsgHistoryReply, err)
		}
	}
	return env.ReplyContent(protocol.MsgHistoryReply, &protocol.HistoryReply{Status: protocol.StatusOK, History: entries})
}

// handleShutdown flushes the reply and idle before marking the connection
// for shutdown.
func (k *Kernel) handleShutdown(env *channels.ReplyEnvironment, msg *protocol.Message) error {
	req, err := protocol.ContentAs[protocol.ShutdownRequest](msg)
	if err != nil {
		return contentError(env, protocol.MsgShutdownReply, err)
	}
	if err := env.Defer().ReplyContent(protocol.MsgShutdownReply, &protocol.ShutdownReply{Status: protocol.StatusOK, Restart: req.Restart}); err != nil {
		return err
	}
	k.closing.Store(true)
	k.interruptExec()
	k.comms.CloseAll(nil)
	if s, ok := k.eval.(Shutdowner); ok {
		if err := s.Shutdown(req.Restart); err != nil {
			k.log.Warn().Err(err).Msg("kernel.shutdown evaluator hook failed")
		}
	}
	k.log.Info().Msgf("kernel.shutdown restart=%t", req.Restart)
	resolveErr := env.ResolveDeferrals()
	env.MarkForShutdown()
	return resolveErr
}

func (k *Kernel) handleInterrupt(env *channels.ReplyEnvironment, _ *protocol.Message) error {
	if _, err := k.Interrupt(); err != nil {
		return replyEvalError(env, protocol.MsgInterruptReply, err)
	}
	return env.ReplyContent(protocol.MsgInterruptReply, &protocol.InterruptReply{Status: protocol.StatusOK})
}

func contentError(env *channels.ReplyEnvironment, typ *protocol.MessageType, err error) error {
	if rerr := env.ReplyError(typ, protocol.NewErrorReply("ContentError", err.Error(), nil)); rerr != nil {
		return rerr
	}
	return err
}

func replyEvalError(env *channels.ReplyEnvironment, typ *protocol.MessageType, err error) error {
	e := asEvalError(err)
	return env.ReplyError(typ, protocol.NewErrorReply(e.EName, e.EValue, e.Traceback))
}
