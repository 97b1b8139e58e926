package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/danmuck/jupyterwire/internal/client"
	"github.com/danmuck/jupyterwire/internal/config"
	"github.com/danmuck/jupyterwire/internal/observability"
	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/rs/zerolog/log"
)

const usage = `usage: kernelctl -f <connection.json> [-config kernelctl.toml] <command> [args]

commands:
  info                 kernel_info_request
  exec <code>          execute_request, streaming output to the terminal
  complete <code>      complete_request with the cursor at the end
  inspect <code>       inspect_request with the cursor at the end
  is-complete <code>   is_complete_request
  history [n]          last n history entries
  comms [target]       comm_info_request
  interrupt            interrupt_request on control
  shutdown [restart]   shutdown_request on control
`

func main() {
	connFile := flag.String("f", "", "jupyter connection file")
	configPath := flag.String("config", "", "kernelctl config toml (optional)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	observability.InitLogger("kernelctl")
	if err := run(*connFile, *configPath, flag.Args(), os.Stdout); err != nil {
		var rerr *client.ReplyError
		if errors.As(err, &rerr) {
			fmt.Fprintf(os.Stderr, "%s: %s\n", rerr.Reply.EName, rerr.Reply.EValue)
		} else {
			fmt.Fprintf(os.Stderr, "kernelctl: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(connFile, configPath string, args []string, out io.Writer) error {
	if connFile == "" || len(args) == 0 {
		flag.Usage()
		return fmt.Errorf("missing connection file or command")
	}
	props, err := config.LoadConnectionFile(connFile)
	if err != nil {
		return err
	}
	cfg, err := loadCtlConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	c, err := client.Dial(ctx, props, cfg.Client)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Start(); err != nil {
		return err
	}
	log.Debug().Msgf("kernelctl connected session=%q ip=%q", c.Session(), props.IP)
	return dispatch(ctx, c, args, out)
}

func dispatch(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	cmd, rest := args[0], strings.Join(args[1:], " ")
	switch cmd {
	case "info":
		reply, err := c.KernelInfo(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, reply)
	case "exec":
		sink := client.NewWriterSink(out, os.Stderr, os.Stdin)
		reply, err := c.ExecuteCode(ctx, rest, sink)
		if err != nil {
			return err
		}
		log.Debug().Msgf("kernelctl exec execution_count=%d", reply.ExecutionCount)
		return nil
	case "complete":
		reply, err := c.Complete(ctx, rest, len([]rune(rest)))
		if err != nil {
			return err
		}
		return printJSON(out, reply)
	case "inspect":
		reply, err := c.Inspect(ctx, rest, len([]rune(rest)), 0)
		if err != nil {
			return err
		}
		return printJSON(out, reply)
	case "is-complete":
		reply, err := c.IsComplete(ctx, rest)
		if err != nil {
			return err
		}
		return printJSON(out, reply)
	case "history":
		n := 10
		if rest != "" {
			v, err := strconv.Atoi(rest)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			n = v
		}
		reply, err := c.History(ctx, &protocol.HistoryRequest{HistAccessType: protocol.HistoryTail, N: n})
		if err != nil {
			return err
		}
		for _, entry := range reply.History {
			fmt.Fprintf(out, "%d:%d  %s\n", entry.Session, entry.Line, entry.Input)
		}
		return nil
	case "comms":
		reply, err := c.CommInfo(ctx, rest)
		if err != nil {
			return err
		}
		return printJSON(out, reply)
	case "interrupt":
		if _, err := c.Interrupt(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "interrupted")
		return nil
	case "shutdown":
		reply, err := c.Shutdown(ctx, rest == "restart")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "shutdown restart=%t\n", reply.Restart)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
