package kernel

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/jupyterwire/internal/protocol"
)

// Echo is a reference Evaluator. Plain code evaluates to itself; a few
// prefixed forms exercise the rest of the protocol:
//
//	print:<text>   write text to stdout
//	stderr:<text>  write text to stderr
//	error:<text>   fail with EchoError
//	input:<prompt> read a line from the frontend and return it
//	display:<text> publish display_data
//	sleep          block until interrupted
//	panic          panic inside the evaluator
type Echo struct{}

var echoKeywords = []string{"display:", "error:", "input:", "panic", "print:", "sleep", "stderr:"}

func (Echo) LanguageInfo() protocol.LanguageInfo {
	return protocol.LanguageInfo{
		Name:          "echo",
		Version:       "1.0",
		MIMEType:      "text/plain",
		FileExtension: ".txt",
	}
}

func (Echo) Eval(ctx context.Context, ec *ExecContext, code string) (protocol.MIMEBundle, error) {
	switch {
	case strings.HasPrefix(code, "print:"):
		_, err := fmt.Fprintln(ec.Stdout, strings.TrimPrefix(code, "print:"))
		return nil, err
	case strings.HasPrefix(code, "stderr:"):
		_, err := fmt.Fprintln(ec.Stderr, strings.TrimPrefix(code, "stderr:"))
		return nil, err
	case strings.HasPrefix(code, "error:"):
		return nil, &EvalError{EName: "EchoError", EValue: strings.TrimPrefix(code, "error:"), Traceback: []string{"EchoError: " + strings.TrimPrefix(code, "error:")}}
	case strings.HasPrefix(code, "input:"):
		value, err := ec.Input(ctx, strings.TrimPrefix(code, "input:"))
		if err != nil {
			return nil, err
		}
		return protocol.MIMEBundle{"text/plain": value}, nil
	case strings.HasPrefix(code, "display:"):
		return nil, ec.Display(protocol.MIMEBundle{"text/plain": strings.TrimPrefix(code, "display:")}, nil)
	case code == "sleep":
		<-ctx.Done()
		return nil, ctx.Err()
	case code == "panic":
		panic("echo: panic requested")
	case strings.TrimSpace(code) == "":
		return nil, nil
	default:
		return protocol.MIMEBundle{"text/plain": code}, nil
	}
}

func (Echo) Inspect(code string, cursor, _ int) (protocol.MIMEBundle, bool, error) {
	word, _ := wordAt(code, cursor)
	if word == "" {
		return nil, false, nil
	}
	return protocol.MIMEBundle{"text/plain": fmt.Sprintf("%s: echoed verbatim", word)}, true, nil
}

func (Echo) Complete(code string, cursor int) (Completion, error) {
	word, start := wordAt(code, cursor)
	var matches []string
	for _, kw := range echoKeywords {
		if strings.HasPrefix(kw, word) {
			matches = append(matches, kw)
		}
	}
	sort.Strings(matches)
	return Completion{Matches: matches, Start: start, End: cursor}, nil
}

// IsComplete treats a trailing backslash as a continuation and unbalanced
// brackets as incomplete or invalid.
func (Echo) IsComplete(code string) (string, string) {
	if strings.HasSuffix(strings.TrimRight(code, " \t"), "\\") {
		return protocol.CompleteNo, ""
	}
	depth := 0
	for _, r := range code {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		}
		if depth < 0 {
			return protocol.CompleteInvalid, ""
		}
	}
	if depth > 0 {
		return protocol.CompleteNo, strings.Repeat("    ", depth)
	}
	return protocol.CompleteYes, ""
}

// wordAt returns the run of non-space runes ending at cursor and its start.
// cursor counts runes.
func wordAt(code string, cursor int) (string, int) {
	runes := []rune(code)
	if cursor < 0 || cursor > len(runes) {
		cursor = len(runes)
	}
	start := cursor
	for start > 0 && !strings.ContainsRune(" \t\n", runes[start-1]) {
		start--
	}
	return string(runes[start:cursor]), start
}
