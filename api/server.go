// Package api exposes certificate.Service over HTTP.
//
// Routes:
//
//	POST   /v1/certificates                  issue (multipart: email, fid?, name?, file)
//	GET    /v1/certificates/{fid}            ledger record
//	PUT    /v1/certificates/{fid}            replace content (multipart: name?, file)
//	DELETE /v1/certificates/{fid}            deactivate and remove content
//	POST   /v1/certificates/{fid}/verify     {"email": ...}
//	GET    /v1/certificates/{fid}/content    decrypted content, ?cid= pins the address
//	GET    /v1/emails/{email}/certificates   fids issued to email
//	GET    /healthz
//	GET    /metrics
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bitfsorg/certvault-go/certificate"
)

// DefaultMaxUploadSize bounds multipart request bodies.
const DefaultMaxUploadSize = 32 << 20

// Options configures a Server.
type Options struct {
	Logger *zap.Logger

	// Gatherer backs /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer

	// RateLimit is the per-IP request budget per RateWindow. Zero disables it.
	RateLimit  int
	RateWindow time.Duration

	// TrustProxy takes the client IP from X-Forwarded-For and X-Real-IP.
	// Set it only behind a proxy that overwrites those headers; otherwise
	// the rate limit keys on the connection's remote address.
	TrustProxy bool

	MaxUploadSize int64
}

// Server holds the HTTP handlers.
type Server struct {
	svc    *certificate.Service
	logger *zap.Logger
	opts   Options
}

// NewServer builds a Server over svc.
func NewServer(svc *certificate.Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	return &Server{svc: svc, logger: opts.Logger, opts: opts}
}

// Router returns the configured HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(s.logMiddleware)

	r.Get("/healthz", s.healthz)
	if s.opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(api chi.Router) {
		if s.opts.RateLimit > 0 {
			api.Use(httprate.Limit(s.opts.RateLimit, s.opts.RateWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeError(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests")
				}),
			))
		}

		api.Route("/certificates", func(r chi.Router) {
			r.Post("/", s.issue)
			r.Route("/{fid}", func(r chi.Router) {
				r.Get("/", s.get)
				r.Put("/", s.update)
				r.Delete("/", s.delete)
				r.Post("/verify", s.verify)
				r.Get("/content", s.download)
			})
		})
		api.Get("/emails/{email}/certificates", s.lookup)
	})

	return r
}

// StartHTTP listens and serves until ctx is canceled, then shuts down
// gracefully within grace.
func StartHTTP(ctx context.Context, srv *http.Server, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "issuer": s.svc.Issuer()})
}
