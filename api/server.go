// Package api exposes the executor over HTTP for local tooling.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	engerrors "resengine/core/errors"
	"resengine/core/types"
	"resengine/indexer"
)

// Engine runs transactions. *core.Executor satisfies it.
type Engine interface {
	Execute(ctx context.Context, tx *types.Transaction) *types.Receipt
	Preview(ctx context.Context, tx *types.Transaction) *types.Receipt
}

// Lookup answers receipt queries. *indexer.Index satisfies it.
type Lookup interface {
	Transaction(ctx context.Context, hash common.Hash) (*indexer.Transaction, error)
	Entities(ctx context.Context, hash common.Hash) ([]indexer.Entity, error)
}

// Config tunes the HTTP surface.
type Config struct {
	Listen       string     `toml:"Listen" yaml:"listen"`
	MaxBodyBytes int64      `toml:"MaxBodyBytes" yaml:"maxBodyBytes"`
	Auth         AuthConfig `toml:"auth" yaml:"auth"`
	RateLimit    RateLimit  `toml:"rate_limit" yaml:"rateLimit"`
}

const defaultMaxBody = 1 << 20

type server struct {
	engine Engine
	lookup Lookup
	cfg    Config
	logger *slog.Logger
}

// New builds the router. lookup may be nil, in which case transaction
// queries answer 404.
func New(engine Engine, lookup Lookup, cfg Config, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	s := &server{engine: engine, lookup: lookup, cfg: cfg, logger: logger}
	auth := newAuthenticator(cfg.Auth, logger)
	limiter := newRateLimiter(cfg.RateLimit)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1/transactions", func(sr chi.Router) {
		sr.Use(limiter.middleware)
		sr.Get("/{hash}", s.getTransaction)
		sr.With(auth.require(ScopeExecute)).Post("/", s.run(false))
		sr.With(auth.require(ScopeExecute)).Post("/preview", s.run(true))
	})
	return otelhttp.NewHandler(r, "resengine.api")
}

type transactionView struct {
	*indexer.Transaction
	Entities []indexer.Entity `json:"entities"`
}

func (s *server) run(preview bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dec := json.NewDecoder(io.LimitReader(r.Body, s.cfg.MaxBodyBytes))
		dec.DisallowUnknownFields()
		var tx types.Transaction
		if err := dec.Decode(&tx); err != nil {
			writeError(w, http.StatusBadRequest, "decode transaction: "+err.Error())
			return
		}
		var receipt *types.Receipt
		if preview {
			receipt = s.engine.Preview(r.Context(), &tx)
		} else {
			receipt = s.engine.Execute(r.Context(), &tx)
		}
		status := http.StatusOK
		if !receipt.Succeeded() {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, receipt)
	}
}

func (s *server) getTransaction(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "hash")
	if s.lookup == nil {
		writeError(w, http.StatusNotFound, "transaction index disabled")
		return
	}
	b, err := hexHash(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	row, err := s.lookup.Transaction(r.Context(), b)
	if errors.Is(err, engerrors.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("transaction lookup failed", slog.String("tx", raw), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	entities, err := s.lookup.Entities(r.Context(), b)
	if err != nil {
		s.logger.Error("entity lookup failed", slog.String("tx", raw), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, transactionView{Transaction: row, Entities: entities})
}

func hexHash(raw string) (common.Hash, error) {
	b, err := common.ParseHexOrString(raw)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, errors.New("transaction hash must be 32 hex bytes")
	}
	return common.BytesToHash(b), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
