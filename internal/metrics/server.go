package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/discord-voice-bridge/internal/config"
)

// Module provides the metrics/health HTTP listener.
var Module = fx.Module("metrics",
	fx.Provide(NewRouter),
	fx.Invoke(RegisterServer),
)

// SessionCounter reports how many bridge sessions are live.
type SessionCounter interface {
	ActiveSessions() int
}

// RouterParams holds dependencies for NewRouter.
type RouterParams struct {
	fx.In
	Logger   *zap.Logger
	Sessions SessionCounter `optional:"true"`
}

// NewRouter builds the HTTP handler serving /metrics and /healthz.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		resp := struct {
			Status   string `json:"status"`
			Sessions int    `json:"sessions"`
		}{Status: "ok"}
		if params.Sessions != nil {
			resp.Sessions = params.Sessions.ActiveSessions()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			params.Logger.Warn("Failed to write health response", zap.Error(err))
		}
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// ServerParams holds dependencies for RegisterServer.
type ServerParams struct {
	fx.In
	Cfg     *config.Config
	LC      fx.Lifecycle
	Logger  *zap.Logger
	Handler http.Handler
}

// RegisterServer starts the listener with the app when metrics are enabled.
func RegisterServer(params ServerParams) {
	if !params.Cfg.Metrics.Enabled {
		params.Logger.Info("Metrics listener disabled")

		return
	}

	srv := &http.Server{
		Addr:         params.Cfg.Metrics.ListenAddr,
		Handler:      params.Handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	params.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			params.Logger.Info("Metrics listener started", zap.String("addr", ln.Addr().String()))

			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					params.Logger.Error("Metrics listener failed", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			params.Logger.Info("Stopping metrics listener")

			return srv.Shutdown(ctx)
		},
	})
}
