// Package node is the HTTP surface shared by commander and soldier
// processes: router construction with the common middleware stack and
// graceful serving.
package node

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/missionctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}

// NewRouter builds a gin engine with recovery, request logging and metrics.
// CORS is enabled when origins is non-nil.
func NewRouter(id string, origins []string) *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	if origins != nil {
		r.Use(cors.New(cors.Config{
			AllowOrigins: normalizeOrigins(origins),
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	return r
}

// Serve runs n's router on addr until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, n Node, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           n.HTTPRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("node", n.NodeID()).Str("kind", n.Kind()).Str("addr", addr).Msg("node listening")
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
