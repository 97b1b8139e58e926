package kernel

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/danmuck/jupyterwire/internal/tools"
)

// Shell evaluates each cell as a script for the host shell, streaming its
// output as it is produced. A non-zero exit fails the cell with ExitError.
type Shell struct {
	// Runner defaults to tools.ExecRunner.
	Runner tools.CommandRunner
	// Path defaults to "sh".
	Path string
}

func (s Shell) runner() tools.CommandRunner {
	if s.Runner == nil {
		return tools.ExecRunner{}
	}
	return s.Runner
}

func (s Shell) path() string {
	if s.Path == "" {
		return "sh"
	}
	return s.Path
}

func (s Shell) LanguageInfo() protocol.LanguageInfo {
	return protocol.LanguageInfo{
		Name:           "shell",
		Version:        "posix",
		MIMEType:       "text/x-sh",
		FileExtension:  ".sh",
		PygmentsLexer:  "bash",
		CodemirrorMode: "shell",
	}
}

func (s Shell) Eval(ctx context.Context, ec *ExecContext, code string) (protocol.MIMEBundle, error) {
	if strings.TrimSpace(code) == "" {
		return nil, nil
	}
	var mu sync.Mutex
	stdout := &lockedWriter{mu: &mu, w: ec.Stdout}
	stderr := &lockedWriter{mu: &mu, w: ec.Stderr}

	exit, err := s.runner().Run(ctx, stdout, stderr, s.path(), "-c", code)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err == nil && exit == 0 {
		return nil, nil
	}
	if exit == tools.ExitNotFound && err != nil {
		return nil, &EvalError{EName: "ExitError", EValue: err.Error(), Traceback: []string{err.Error()}}
	}
	msg := fmt.Sprintf("exit status %d", exit)
	return nil, &EvalError{EName: "ExitError", EValue: msg, Traceback: []string{msg}}
}

// Inspect reports where the word under the cursor resolves on PATH.
func (s Shell) Inspect(code string, cursor, _ int) (protocol.MIMEBundle, bool, error) {
	word, _ := wordAt(code, cursor)
	if word == "" {
		return nil, false, nil
	}
	found, err := exec.LookPath(word)
	if err != nil {
		return nil, false, nil
	}
	return protocol.MIMEBundle{"text/plain": fmt.Sprintf("%s is %s", word, found)}, true, nil
}

// Complete matches the word under the cursor against executables on PATH.
func (s Shell) Complete(code string, cursor int) (Completion, error) {
	word, start := wordAt(code, cursor)
	if word == "" || strings.ContainsRune(word, '/') {
		return Completion{Start: start, End: cursor}, nil
	}
	seen := make(map[string]struct{})
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasPrefix(name, word) {
				continue
			}
			seen[name] = struct{}{}
		}
	}
	matches := make([]string, 0, len(seen))
	for name := range seen {
		matches = append(matches, name)
	}
	sort.Strings(matches)
	return Completion{Matches: matches, Start: start, End: cursor}, nil
}

// IsComplete treats a trailing backslash or pipe, or an unterminated quote,
// as incomplete.
func (s Shell) IsComplete(code string) (string, string) {
	trimmed := strings.TrimRight(code, " \t\n")
	if strings.HasSuffix(trimmed, "\\") || strings.HasSuffix(trimmed, "|") || strings.HasSuffix(trimmed, "&&") {
		return protocol.CompleteNo, ""
	}
	var quote rune
	escaped := false
	for _, r := range code {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		}
	}
	if quote != 0 {
		return protocol.CompleteNo, ""
	}
	return protocol.CompleteYes, ""
}

// lockedWriter serializes the stdout and stderr copy goroutines onto the
// single-goroutine ReplyEnvironment.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
