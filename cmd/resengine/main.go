// Command resengine executes one JSON-encoded transaction against a local
// substate store and prints the receipt. With -serve it exposes the same
// executor over HTTP instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"resengine/api"
	"resengine/cmd/internal/passphrase"
	"resengine/config"
	"resengine/core"
	"resengine/core/codec"
	"resengine/core/events"
	"resengine/core/substate"
	"resengine/core/types"
	"resengine/core/vm"
	"resengine/crypto"
	"resengine/indexer"
	"resengine/native/demo"
	"resengine/observability/logging"
	"resengine/observability/otel"
	"resengine/storage"
)

const (
	envVar     = "RESENGINE_ENV"
	keyPassEnv = "RESENGINE_KEY_PASS"
)

type options struct {
	configPath string
	txPath     string
	keyPath    string
	preview    bool
	serve      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "./config.toml", "Path to the configuration file (.toml or .yaml)")
	flag.StringVar(&opts.txPath, "tx", "-", "Path to the JSON transaction, - for stdin")
	flag.StringVar(&opts.keyPath, "key", "", "Optional signing key: a v3 keystore (passphrase from $RESENGINE_KEY_PASS or the terminal) or a hex secp256k1 key")
	flag.BoolVar(&opts.preview, "preview", false, "Execute without committing")
	flag.BoolVar(&opts.serve, "serve", false, "Serve the HTTP API instead of executing a single transaction")
	flag.Parse()

	if opts.serve {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := serve(ctx, opts); err != nil {
			fmt.Fprintf(os.Stderr, "resengine: %v\n", err)
			os.Exit(2)
		}
		return
	}

	receipt, err := run(context.Background(), opts, os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resengine: %v\n", err)
		os.Exit(2)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(receipt); err != nil {
		fmt.Fprintf(os.Stderr, "resengine: encode receipt: %v\n", err)
		os.Exit(2)
	}
	if !receipt.Succeeded() {
		os.Exit(1)
	}
}

// engine is everything a command needs to run transactions. close releases
// it in reverse order of acquisition.
type engine struct {
	cfg     *config.Config
	logger  *slog.Logger
	exec    *core.Executor
	index   *indexer.Index
	closers []func()
}

func (e *engine) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func setup(ctx context.Context, opts options) (_ *engine, err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	env := strings.TrimSpace(os.Getenv(envVar))
	if env == "" {
		env = cfg.Environment
	}
	logger, err := logging.Setup(cfg.Service, env, cfg.LoggingOptions())
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	e := &engine{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			e.close()
		}
	}()

	telemetry := cfg.TelemetryConfig()
	telemetry.Environment = env
	shutdown, err := otel.Init(ctx, telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	e.closers = append(e.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	})
	if telemetry.Enabled() {
		headers := make([]any, 0, len(telemetry.Headers))
		for k, v := range telemetry.Headers {
			headers = append(headers, logging.MaskField(k, v))
		}
		logger.Info("telemetry exporting", slog.String("endpoint", telemetry.Endpoint), slog.Group("headers", headers...))
	}

	if cfg.Metrics.Enabled {
		srv := serveMetrics(cfg.Metrics.Listen, logger)
		e.closers = append(e.closers, func() { _ = srv.Close() })
	}

	var emitter events.Emitter = events.NoopEmitter{}
	if cfg.Indexer.DSN != "" {
		idx, err := indexer.Open(cfg.Indexer.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open indexer: %w", err)
		}
		e.index = idx
		emitter = events.Multi{idx}
		e.closers = append(e.closers, func() { _ = idx.Close() })
	}

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	e.closers = append(e.closers, func() { _ = db.Close() })

	exec, closeRuntimes, err := newExecutor(ctx, cfg, substate.NewStore(db), logger, emitter)
	if err != nil {
		return nil, err
	}
	e.exec = exec
	e.closers = append(e.closers, closeRuntimes)
	return e, nil
}

func run(ctx context.Context, opts options, stdin io.Reader) (*types.Receipt, error) {
	tx, err := readTransaction(opts.txPath, stdin)
	if err != nil {
		return nil, err
	}
	if opts.keyPath != "" {
		if err := signWith(tx, opts.keyPath); err != nil {
			return nil, err
		}
	}

	e, err := setup(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer e.close()

	if opts.preview {
		return e.exec.Preview(ctx, tx), nil
	}
	return e.exec.Execute(ctx, tx), nil
}

// serve runs the HTTP API until ctx is cancelled.
func serve(ctx context.Context, opts options) error {
	e, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer e.close()

	var lookup api.Lookup
	if e.index != nil {
		lookup = e.index
	}
	srv := &http.Server{
		Addr:              e.cfg.API.Listen,
		Handler:           api.New(e.exec, lookup, e.cfg.API, e.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("api listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func newExecutor(ctx context.Context, cfg *config.Config, store *substate.Store, logger *slog.Logger, emitter events.Emitter) (*core.Executor, func(), error) {
	execCfg := core.DefaultExecutorConfig()
	execCfg.Limits = cfg.Limits()
	execCfg.Costs = cfg.Costs
	execCfg.DefaultCostLimit = cfg.Engine.DefaultCostLimit
	execCfg.Logger = logger
	execCfg.Emitter = emitter
	exec := core.NewExecutor(store, nil, execCfg)

	native := vm.NewNativeRuntime(codec.Default)
	demo.Register(native)
	if err := exec.RegisterRuntime(vm.KindNative, native); err != nil {
		return nil, nil, err
	}
	wasm, err := vm.NewWasmRuntime(ctx, cfg.WasmConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("wasm runtime: %w", err)
	}
	closeRuntimes := func() {
		if err := wasm.Close(context.Background()); err != nil {
			logger.Warn("wasm runtime close failed", slog.Any("error", err))
		}
	}
	if err := exec.RegisterRuntime(vm.KindWasm, wasm); err != nil {
		closeRuntimes()
		return nil, nil, err
	}
	return exec, closeRuntimes, nil
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint stopped", slog.Any("error", err))
		}
	}()
	return srv
}

func readTransaction(path string, stdin io.Reader) (*types.Transaction, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open transaction: %w", err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var tx types.Transaction
	if err := dec.Decode(&tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &tx, nil
}

func signWith(tx *types.Transaction, keyPath string) error {
	key, err := crypto.LoadSigningKey(keyPath, passphrase.NewSource(keyPassEnv).Get)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	return tx.Sign(key)
}
