package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/msnctl/internal/admin"
	"github.com/danmuck/msnctl/internal/engine"
	"github.com/danmuck/msnctl/internal/logging"
	"github.com/danmuck/msnctl/internal/passport"
	"github.com/danmuck/msnctl/internal/session"
	"github.com/danmuck/msnctl/internal/status"
	"github.com/danmuck/msnctl/internal/templates"
	"github.com/danmuck/msnctl/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type loginFlags struct {
	configPath string
	account    string
	status     string
	server     string
	adminAddr  string
}

func NewLoginCommand() *cobra.Command {
	var flags loginFlags

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and stay connected until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveLoginConfig(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runLogin(ctx, cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "TOML config file")
	cmd.Flags().StringVarP(&flags.account, "account", "a", "", "Account e-mail (overrides config)")
	cmd.Flags().StringVarP(&flags.status, "status", "s", "", "Initial status (overrides config)")
	cmd.Flags().StringVar(&flags.server, "server", "", "Notification server host:port (overrides config)")
	cmd.Flags().StringVar(&flags.adminAddr, "admin", "", "Admin HTTP listen address (overrides config)")

	return cmd
}

func resolveLoginConfig(flags loginFlags) (Config, error) {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return Config{}, err
	}
	if v := strings.TrimSpace(flags.account); v != "" {
		cfg.Account = v
	}
	if v := strings.TrimSpace(flags.status); v != "" {
		cfg.Status = v
	}
	if v := strings.TrimSpace(flags.server); v != "" {
		cfg.ServerAddress = v
	}
	if v := strings.TrimSpace(flags.adminAddr); v != "" {
		cfg.AdminAddr = v
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func runLogin(ctx context.Context, cfg Config, out io.Writer) error {
	if level, ok := logging.ParseLevel(cfg.LogLevel); ok {
		zerolog.SetGlobalLevel(level)
	}
	initial, err := status.Parse(cfg.Status)
	if err != nil {
		return err
	}

	tpl := templates.Builtin()
	if cfg.TemplatesFile != "" {
		if tpl, err = templates.LoadFile(cfg.TemplatesFile, tpl); err != nil {
			return err
		}
	}
	negotiator := passport.NewNegotiator(passport.Config{
		Host: cfg.PassportHost,
		Path: cfg.PassportPath,
	}, passport.NewHTTPPoster(cfg.PassportTimeout), tpl)

	tcfg := transport.DefaultConfig()
	tcfg.Address = cfg.ServerAddress
	tcfg.ConnectTimeout = cfg.ConnectTimeout
	conn, err := transport.Dial(ctx, tcfg)
	if err != nil {
		return err
	}

	sess := session.New(session.DefaultConfig())
	defer sess.Close()
	eng, err := engine.New(engine.Config{PingInterval: cfg.PingInterval}, engine.Deps{
		Session:    sess,
		Transport:  conn,
		Negotiator: negotiator,
	})
	if err != nil {
		_ = conn.Close()
		return err
	}

	if cfg.AdminAddr != "" {
		srv := admin.New(cfg.AdminAddr, eng, cfg.CORSOrigins)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				log.Error().Msgf("msnctl.runLogin admin err=%v", err)
			}
		}()
	}

	if err := sess.Submit(ctx, session.NewAction(session.ActionLogin, cfg.Account, cfg.Password, initial)); err != nil {
		_ = conn.Close()
		return err
	}

	printerDone := make(chan struct{})
	printCtx, stopPrinter := context.WithCancel(context.Background())
	go func() {
		defer close(printerDone)
		printEvents(printCtx, sess.Events(), out)
	}()

	err = eng.Run(ctx)
	stopPrinter()
	<-printerDone
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printEvents(ctx context.Context, events <-chan session.Event, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			fmt.Fprintln(out, formatEvent(ev))
		}
	}
}

func formatEvent(ev session.Event) string {
	parts := make([]string, 0, len(ev.Args))
	for i := range ev.Args {
		parts = append(parts, ev.Arg(i))
	}
	line := ev.At.Format("15:04:05") + " " + ev.Kind.String()
	if len(parts) > 0 {
		line += ": " + strings.Join(parts, " ")
	}
	return line
}
