package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/wilhg/devici-mcp/pkg/agent"
	"github.com/wilhg/devici-mcp/pkg/agent/tools"
	"github.com/wilhg/devici-mcp/pkg/auth"
	"github.com/wilhg/devici-mcp/pkg/config"
	"github.com/wilhg/devici-mcp/pkg/devici"
	"github.com/wilhg/devici-mcp/pkg/mcpserver"
	"github.com/wilhg/devici-mcp/pkg/otel"
	"github.com/wilhg/devici-mcp/pkg/otm"
	"github.com/wilhg/devici-mcp/pkg/platform"
	"github.com/wilhg/devici-mcp/pkg/store"
	"github.com/wilhg/devici-mcp/pkg/store/memstore"
	"github.com/wilhg/devici-mcp/pkg/store/sqlstore"
)

var (
	serveHTTPAddr string
	serveSchema   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP over stdio, or streamable HTTP with --http",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "listen address for streamable HTTP (overrides server.http_addr)")
	serveCmd.Flags().StringVar(&serveSchema, "schema", getEnv("DEVICI_OTM_SCHEMA", ""), "JSON Schema file applied to OTM documents")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}
	if serveHTTPAddr != "" {
		cfg.Server.HTTPAddr = serveHTTPAddr
	}

	logger, err := buildLogger(cfg.EffectiveLogLevel())
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	if f := config.ConfigFileUsed(); f != "" {
		logger.Info("config loaded", zap.String("file", f))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, otel.Config{ServiceVersion: version, UseStdout: cfg.OTel.Stdout})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := platform.NewMetrics(promReg)

	api, err := buildAPI(cfg, metrics, logger)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	var schema *otm.SchemaValidator
	if serveSchema != "" {
		if schema, err = otm.LoadSchemaFile(serveSchema); err != nil {
			return fmt.Errorf("load schema: %w", err)
		}
	}

	reg := agent.NewRegistry()
	if err := tools.Register(reg, tools.Deps{API: api, Store: st, Schema: schema, Logger: logger.Named("tools")}); err != nil {
		return err
	}
	srv, err := mcpserver.New(reg,
		mcpserver.WithAllowed(permissions(cfg.Server.ReadOnly)),
		mcpserver.WithLogger(logger.Named("mcp")),
		mcpserver.WithVersion(version),
	)
	if err != nil {
		return err
	}

	if cfg.Server.HTTPAddr == "" {
		logger.Info("serving mcp over stdio", zap.Int("tools", len(srv.Tools())), zap.Bool("read_only", cfg.Server.ReadOnly))
		return srv.ServeStdio(ctx)
	}
	return serveHTTP(ctx, cfg.Server.HTTPAddr, buildMux(srv, promReg), logger)
}

// httpClients returns the clients used for token exchange and for API calls.
// They share one transport so both draw on the same connection pool. The API
// client has no overall timeout; the executor bounds each attempt instead.
func httpClients(cfg *config.Config) (authClient, apiClient *http.Client) {
	tr := platform.NewTransport()
	return &http.Client{Transport: tr, Timeout: cfg.HTTP.Timeout}, &http.Client{Transport: tr}
}

func buildAPI(cfg *config.Config, metrics *platform.Metrics, logger *zap.Logger) (*devici.Client, error) {
	authHC, apiHC := httpClients(cfg)
	authn := auth.NewHTTPAuthenticator(
		auth.WithHTTPClient(authHC),
		auth.WithSafetyMargin(cfg.Auth.SafetyMargin),
		auth.WithAuthLogger(logger.Named("auth")),
	)
	tokens := auth.NewSource(cfg.Credential(), authn,
		auth.WithRefreshHook(metrics.ObserveRefresh),
		auth.WithSourceLogger(logger.Named("auth")),
	)
	exec, err := platform.NewClient(cfg.APIBaseURL, tokens,
		platform.WithHTTPClient(apiHC),
		platform.WithRetryPolicy(cfg.RetryPolicy()),
		platform.WithAttemptTimeout(cfg.HTTP.Timeout),
		platform.WithLogger(logger.Named("platform")),
		platform.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}
	return devici.New(exec, devici.WithLogger(logger.Named("devici"))), nil
}

// openStore returns the in-memory store for "memory" and a SQL store otherwise.
func openStore(ctx context.Context, dsn string) (store.DocumentStore, error) {
	if strings.EqualFold(dsn, config.MemoryDSN) {
		return memstore.New(), nil
	}
	st, err := sqlstore.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

// permissions grants everything, minus platform writes in read-only mode.
func permissions(readOnly bool) map[string]bool {
	grant := []string{agent.PermPlatformRead, agent.PermPlatformWrite, agent.PermStoreWrite}
	if readOnly {
		return agent.Allowed(grant, agent.PermPlatformWrite)
	}
	return agent.Allowed(grant)
}

func buildMux(srv *mcpserver.Server, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", srv.HTTPHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return otelhttp.NewHandler(mux, "devici-mcp")
}

func serveHTTP(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	server := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving mcp over http", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return server.Shutdown(sctx)
}
