// Package httpapi exposes the monitor over HTTP and websocket.
package httpapi

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"memepulse/internal/metrics"
	"memepulse/internal/service"
	"memepulse/internal/storage"
)

const wsPath = "/ws"

// MarketReader answers token queries.
type MarketReader interface {
	Tokens() []service.Token
	CurrentPrice(ctx context.Context, symbol string) (service.TokenPrice, error)
	History(ctx context.Context, symbol string, q service.HistoryQuery) (service.PriceHistory, error)
	Stats(ctx context.Context, symbol string) (service.TokenStats, error)
}

// AlertManager creates and lists alerts.
type AlertManager interface {
	Create(ctx context.Context, in service.CreateAlertInput) (storage.Alert, error)
	List(ctx context.Context, filter storage.AlertFilter) ([]storage.Alert, error)
	Get(ctx context.Context, id int64) (storage.Alert, error)
}

// Deps are the handlers' collaborators. Subscribers and Metrics are optional.
type Deps struct {
	Market      MarketReader
	Alerts      AlertManager
	Subscribers http.Handler
	Metrics     http.Handler
	MetricsPath string
	Logger      zerolog.Logger
}

type handlers struct {
	market MarketReader
	alerts AlertManager
	logger zerolog.Logger
	now    func() time.Time
}

// NewRouter wires every route.
func NewRouter(deps Deps) *mux.Router {
	logger := deps.Logger.With().Str("component", "http").Logger()
	h := &handlers{market: deps.Market, alerts: deps.Alerts, logger: logger, now: time.Now}

	metricsPath := deps.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	r := mux.NewRouter()
	r.Use(accessLog(logger), instrument(wsPath, metricsPath))

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/tokens", h.listTokens).Methods(http.MethodGet)
	r.HandleFunc("/tokens/{symbol}", h.tokenPrice).Methods(http.MethodGet)
	r.HandleFunc("/tokens/{symbol}/history", h.tokenHistory).Methods(http.MethodGet)
	r.HandleFunc("/tokens/{symbol}/stats", h.tokenStats).Methods(http.MethodGet)
	r.HandleFunc("/alerts", h.createAlert).Methods(http.MethodPost)
	r.HandleFunc("/alerts", h.listAlerts).Methods(http.MethodGet)
	r.HandleFunc("/alerts/{id}", h.getAlert).Methods(http.MethodGet)
	if deps.Subscribers != nil {
		r.Handle(wsPath, deps.Subscribers).Methods(http.MethodGet)
	}
	if deps.Metrics != nil {
		r.Handle(metricsPath, deps.Metrics).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	})
	return r
}

// ServerOptions tune the http.Server.
type ServerOptions struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewServer wraps handler in an http.Server.
func NewServer(opts ServerOptions, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
	}
}

// Serve runs srv until ctx is cancelled, then shuts it down within timeout.
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("http server stopped")
	return nil
}

func instrument(skip ...string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		measured := metrics.InstrumentHandler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range skip {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}
			measured.ServeHTTP(w, r)
		})
	}
}

func accessLog(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}

// statusWriter records the status and keeps websocket upgrades working.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
