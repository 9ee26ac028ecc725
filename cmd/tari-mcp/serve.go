package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fluffypony/universe/pkg/host"
	"github.com/fluffypony/universe/pkg/logging"
	"github.com/fluffypony/universe/pkg/server"
)

type serveFlags struct {
	stdio           bool
	enable          bool
	allowWalletSend bool
	port            int
	auditFile       string
	events          bool
	metrics         bool
}

func (f *serveFlags) register(fs *pflag.FlagSet) {
	fs.BoolVar(&f.stdio, "stdio", false, "serve one agent over stdin and stdout instead of a socket")
	fs.BoolVar(&f.enable, "enable", false, "enable the server, overriding the settings file")
	fs.BoolVar(&f.allowWalletSend, "allow-wallet-send", false, "grant the wallet send capability, overriding the settings file")
	fs.IntVarP(&f.port, "port", "p", 0, "listen port (0 picks a free port)")
	fs.StringVar(&f.auditFile, "audit-file", "", "append audit records to this JSON lines file")
	fs.BoolVar(&f.events, "events", false, "serve the WebSocket event stream")
	fs.BoolVar(&f.metrics, "metrics", false, "serve Prometheus metrics")
}

func newServeCmd(g *globalFlags) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server against the simulated wallet and miners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := g.settings()
			if err != nil {
				return err
			}

			fs := cmd.Flags()
			if fs.Changed("enable") {
				settings.MCP.Enabled = f.enable
			}
			if fs.Changed("allow-wallet-send") {
				settings.MCP.AllowWalletSend = f.allowWalletSend
			}
			if fs.Changed("port") {
				settings.MCP.Port = f.port
			}
			if fs.Changed("audit-file") {
				settings.Audit.File = f.auditFile
			}
			if fs.Changed("events") {
				settings.Events.Enabled = f.events
			}
			if fs.Changed("metrics") {
				settings.Metrics.Enabled = f.metrics
			}

			logger, err := g.logger(settings)
			if err != nil {
				return err
			}

			opts := []server.Option{server.WithLogger(logger)}
			if g.configPath != "" {
				opts = append(opts, server.WithSettingsFile(g.configPath))
			}
			srv, err := server.New(settings, host.NewSimulator().Collaborators(), opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if f.stdio {
				return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
			}
			return run(ctx, srv, logger)
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func run(ctx context.Context, srv *server.Server, logger logging.Logger) error {
	if err := srv.Listen(); err != nil {
		_ = srv.Close()
		return err
	}
	if addr := srv.EventAddr(); addr != nil {
		logger.Info("event stream ready", logging.String("url", "ws://"+addr.String()+"/"))
	}
	return srv.Serve(ctx)
}
