package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentdeck/api"
	"github.com/randalmurphal/agentdeck/claudecontract"
	"github.com/randalmurphal/agentdeck/config"
	"github.com/randalmurphal/agentdeck/notify"
	"github.com/randalmurphal/agentdeck/permission/httphook"
	"github.com/randalmurphal/agentdeck/supervisor"
)

const (
	shutdownTimeout   = 10 * time.Second
	versionTimeout    = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the supervisor and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logger, err := cfg.Logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to a YAML or TOML config file")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	vctx, cancel := context.WithTimeout(ctx, versionTimeout)
	claudecontract.CheckVersion(vctx, logger, cfg.Agent.Binary)
	cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bus := notify.NewBus(cfg.API.NotifyBuffer, logger)
	sup := supervisor.New(supervisorOptions(cfg, logger, bus, reg)...)
	defer sup.Cleanup()

	apiOpts := []api.Option{api.WithLogger(logger), api.WithAllowedOrigins(cfg.API.AllowedOrigins...)}
	if cfg.API.Metrics {
		apiOpts = append(apiOpts, api.WithHandler("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	servers := []*http.Server{{
		Addr:              cfg.API.Listen,
		Handler:           api.New(sup, bus, apiOpts...).Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}}

	if cfg.Permission.Transport == config.TransportHTTP {
		hook := httphook.New(sessionResolver(sup),
			httphook.WithPath(cfg.Permission.HookPath),
			httphook.WithLogger(logger),
		)
		sup.AttachTransport(hook)
		servers = append(servers, &http.Server{
			Addr:              cfg.Permission.HookListen,
			Handler:           hook.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("server failed", "err", serveErr)
	}

	// Stopping the supervisor first answers long-polling permission requests.
	sup.Cleanup()

	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	for _, srv := range servers {
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("shutting down server", "addr", srv.Addr, "err", err)
		}
	}
	return serveErr
}

func supervisorOptions(cfg config.Config, logger *slog.Logger, sink notify.Sink, reg prometheus.Registerer) []supervisor.Option {
	opts := []supervisor.Option{
		supervisor.WithBinary(cfg.Agent.Binary),
		supervisor.WithExtraArgs(cfg.Agent.ExtraArgs...),
		supervisor.WithEnv(cfg.Agent.Env),
		supervisor.WithDefaultModel(cfg.Agent.DefaultModel),
		supervisor.WithPartialMessages(cfg.Agent.PartialMessages),
		supervisor.WithStopGrace(cfg.Agent.StopGrace),
		supervisor.WithRestartDelay(cfg.Agent.RestartDelay),
		supervisor.WithStderrLimit(cfg.Agent.StderrLimit),
		supervisor.WithPrices(cfg.PriceTable()),
		supervisor.WithLogger(logger),
		supervisor.WithNotifier(sink),
		supervisor.WithRegisterer(reg),
	}
	if cfg.Agent.PromptTool != "" {
		opts = append(opts, supervisor.WithPermissionPromptTool(cfg.Agent.PromptTool, cfg.Agent.MCPConfig))
	}
	switch cfg.Permission.Transport {
	case config.TransportFS:
		opts = append(opts, supervisor.WithDropBox(cfg.Permission.DropBoxDir, cfg.Permission.Timeout))
	case config.TransportHTTP:
		opts = append(opts, supervisor.WithHTTPHook(cfg.HookURL()))
	}
	return opts
}

// sessionLookup is what sessionResolver needs from the supervisor.
type sessionLookup interface {
	Session(id string) (supervisor.Session, bool)
	SessionForResumeID(resumeID string) (string, bool)
}

// sessionResolver accepts either a supervisor session id or the agent's
// resume id in the hook's context.session_id.
func sessionResolver(sup sessionLookup) httphook.Resolver {
	return func(ext string) (string, bool) {
		if _, ok := sup.Session(ext); ok {
			return ext, true
		}
		return sup.SessionForResumeID(ext)
	}
}
