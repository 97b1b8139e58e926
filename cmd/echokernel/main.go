package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/jupyterwire/internal/channels"
	"github.com/danmuck/jupyterwire/internal/config"
	"github.com/danmuck/jupyterwire/internal/kernel"
	"github.com/danmuck/jupyterwire/internal/logging"
	"github.com/danmuck/jupyterwire/internal/observability"
	"github.com/danmuck/jupyterwire/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

func main() {
	connFile := flag.String("f", "", "jupyter connection file")
	configPath := flag.String("config", "", "kernel config toml (optional)")
	language := flag.String("language", "echo", "evaluator: echo|shell")
	flag.Parse()

	observability.InitLogger("echokernel")
	if err := run(*connFile, *configPath, *language); err != nil {
		fmt.Fprintf(os.Stderr, "echokernel: %v\n", err)
		os.Exit(1)
	}
}

func run(connFile, configPath, language string) error {
	if connFile == "" {
		return fmt.Errorf("missing connection file (-f)")
	}
	eval, err := evaluator(language)
	if err != nil {
		return err
	}
	props, err := config.LoadConnectionFile(connFile)
	if err != nil {
		return err
	}
	settings, err := loadSettings(configPath)
	if err != nil {
		return err
	}
	if lvl, ok := logging.ParseLevel(settings.LogLevel); ok {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	// jupyter's default interrupt_mode delivers interrupts as SIGINT
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, syscall.SIGINT)
	defer signal.Stop(interrupts)

	conn, err := channels.Bind(ctx, props, nil, channels.Options{
		PollInterval:      settings.PollInterval,
		HeartbeatInterval: settings.HeartbeatInterval,
		StdinTimeout:      settings.StdinTimeout,
	})
	if err != nil {
		return err
	}

	k := kernel.New(conn, eval, kernel.Options{
		Implementation:        settings.Name,
		ImplementationVersion: version,
		Banner:                settings.Banner,
		History:               kernel.NewMemoryHistory(settings.HistoryLimit),
	})
	if err := k.Start(); err != nil {
		conn.Close()
		return err
	}
	log.Info().Msgf("echokernel started session=%q ip=%q shell=%d", conn.Session(), props.IP, props.ShellPort)

	var admin *server.Admin
	if settings.AdminAddr != "" {
		admin = server.New(k, server.Config{
			Name:        settings.Name,
			Addr:        settings.AdminAddr,
			Token:       settings.AdminToken,
			TLS:         settings.AdminTLS,
			CorsOrigins: settings.CorsOrigins,
		})
		go func() {
			if err := admin.Run(); err != nil {
				log.Error().Err(err).Msg("admin server stopped")
			}
		}()
	}

	supervise(ctx, k, interrupts)
	k.Wait()

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("admin shutdown")
		}
	}
	return nil
}

type supervised interface {
	Interrupt() (bool, error)
	Close()
	Done() <-chan struct{}
}

// supervise interrupts k on every signal from interrupts and returns once
// ctx ends (closing k) or k closes on its own.
func supervise(ctx context.Context, k supervised, interrupts <-chan os.Signal) {
	for {
		select {
		case <-interrupts:
			cancelled, err := k.Interrupt()
			if err != nil {
				log.Warn().Err(err).Msg("echokernel interrupt failed")
				continue
			}
			log.Info().Msgf("echokernel interrupt cancelled_execution=%t", cancelled)
		case <-ctx.Done():
			log.Info().Msg("echokernel terminate received, closing")
			k.Close()
			return
		case <-k.Done():
			log.Info().Msg("echokernel connection closed")
			return
		}
	}
}

func evaluator(language string) (kernel.Evaluator, error) {
	switch language {
	case "", "echo":
		return kernel.Echo{}, nil
	case "shell", "sh":
		return kernel.Shell{}, nil
	default:
		return nil, fmt.Errorf("unknown language %q", language)
	}
}

func loadSettings(path string) (config.KernelSettings, error) {
	if path == "" {
		return config.DefaultKernelConfig().Resolve()
	}
	return config.LoadKernelConfig(path)
}
