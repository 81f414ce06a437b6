// Package server exposes the escrow engine over HTTP. Handlers decode
// requests and encode results; every authorization decision is left to the
// engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"escrowledger/crypto"
	"escrowledger/native/arbitration"
	"escrowledger/native/escrow"
	"escrowledger/native/reputation"
	"escrowledger/observability"
	"escrowledger/observability/logging"
	"escrowledger/services/escrowd/auth"
	"escrowledger/services/escrowd/eventlog"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	RateLimit     RateLimit
}

// Deps bundles the collaborators the handlers drive. Reputation, Court and
// Events are optional.
type Deps struct {
	Engine     *escrow.Engine
	Reputation *reputation.Ledger
	Court      *arbitration.Court
	Events     *eventlog.Log
	Hub        *Hub
	Verifier   *auth.Verifier
	Logger     *slog.Logger
}

// Server is the HTTP front-end for the escrow engine.
type Server struct {
	cfg        Config
	engine     *escrow.Engine
	reputation *reputation.Ledger
	court      *arbitration.Court
	events     *eventlog.Log
	hub        *Hub
	verifier   *auth.Verifier
	limiter    *RateLimiter
	logger     *slog.Logger
	router     http.Handler
}

// New constructs a server. Engine and Verifier are required.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("token verifier required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	srv := &Server{
		cfg:        cfg,
		engine:     deps.Engine,
		reputation: deps.Reputation,
		court:      deps.Court,
		events:     deps.Events,
		hub:        hub,
		verifier:   deps.Verifier,
		limiter:    NewRateLimiter(cfg.RateLimit),
		logger:     logger,
	}
	srv.router = otelhttp.NewHandler(srv.buildRouter(), "escrowd")
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.verifier.Middleware(s.authError))
		api.Use(annotateCaller)
		api.Use(s.limiter.Middleware(s.throttled))
		api.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
				next.ServeHTTP(w, r)
			})
		})

		api.Post("/jobs", s.handleCreateJob)
		api.Route("/jobs/{id}", func(job chi.Router) {
			job.Get("/", s.handleGetJob)
			job.Post("/apply", s.jobAction(s.engine.ApplyForJob))
			job.Post("/pick", s.handlePick)
			job.Post("/accept", s.jobAction(s.engine.AcceptJob))
			job.Post("/submit", s.handleSubmitWork)
			job.Post("/release", s.jobAction(s.engine.ReleaseFunds))
			job.Post("/complete", s.handleComplete)
			job.Post("/refund-expired", s.jobAction(s.engine.RefundExpiredJob))
			job.Post("/auto-release", s.jobAction(s.engine.AutoRelease))
			job.Post("/dispute", s.handleRaiseDispute)
			job.Post("/evidence", s.handleEvidence)
			job.Post("/resolve", s.handleResolveManual)
			job.Post("/milestones/{index}/release", s.handleReleaseMilestone)
		})
		api.Get("/disputes/{disputeId}", s.handleGetDispute)
		api.Post("/disputes/{disputeId}/begin", s.handleBeginArbitration)
		api.Post("/disputes/{disputeId}/rule", s.handleRule)

		api.Post("/ledger/withdraw", s.pullAction(s.engine.Withdraw))
		api.Post("/ledger/claim-refund", s.pullAction(s.engine.ClaimRefund))
		api.Get("/accounts/{addr}", s.handleAccount)
		api.Get("/solvency/{asset}", s.handleSolvency)
		api.Get("/config", s.handleGetConfig)

		api.Route("/admin", func(admin chi.Router) {
			admin.Post("/pause", s.callerAction(s.engine.Pause))
			admin.Post("/unpause", s.callerAction(s.engine.Unpause))
			admin.Post("/roles/grant", s.roleAction(s.engine.GrantRole))
			admin.Post("/roles/revoke", s.roleAction(s.engine.RevokeRole))
			admin.Post("/deposits", s.handleDeposit)
			admin.Put("/config/whitelist", s.handleConfigWhitelist)
			admin.Put("/config/fee", s.handleConfigFee)
			admin.Put("/config/vault", s.handleConfigVault)
			admin.Put("/config/reputation-threshold", s.handleConfigThreshold)
			admin.Put("/config/supreme", s.handleConfigSupreme)
			admin.Put("/config/stake", s.handleConfigStake)
			admin.Put("/config/external-arbitration", s.handleConfigArbitration)
		})

		api.Route("/arbitration/cases/{caseId}", func(cases chi.Router) {
			cases.Get("/", s.handleGetCase)
			cases.Post("/review", s.handleReviewCase)
			cases.Post("/decide", s.handleDecideCase)
		})

		api.Get("/events", s.handleListEvents)
		api.Get("/events/stream", s.handleStream)
	})
	return r
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observability.Gateway().Observe(route, status, elapsed)
		s.logger.Info("http request",
			logging.MaskField("requestid", chimw.GetReqID(r.Context())),
			logging.MaskField("method", r.Method),
			logging.MaskField("route", route),
			slog.Int("status", status),
			slog.Duration("elapsed", elapsed),
		)
	})
}

// annotateCaller tags the request span opened by otelhttp with the
// authenticated account.
func annotateCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trace.SpanFromContext(r.Context()).SetAttributes(
			attribute.String("escrow.caller", crypto.HexAddress(callerOf(r.Context()))),
		)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	initialized, err := s.engine.Initialized()
	if err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "Unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "initialized": initialized})
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	addr := strings.TrimSpace(s.cfg.ListenAddress)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("escrowd: http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
