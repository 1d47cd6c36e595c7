// Package server exposes the chain and order ledger over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gw/options-chain/internal/chain"
	"github.com/gw/options-chain/internal/logger"
	"github.com/gw/options-chain/internal/metrics"
	"github.com/gw/options-chain/internal/orders"
	"github.com/gw/options-chain/internal/session"
)

// Session is the connection supervisor as seen by the handlers.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Connected() bool
	Snapshot() chain.Payload
	Status() session.Status
}

// Ledger is the order surface as seen by the handlers.
type Ledger interface {
	PlaceSingle(ctx context.Context, req orders.Request) (int64, error)
	PlaceMultiLeg(ctx context.Context, req orders.MultiLegRequest) (orders.PlacedMultiLeg, error)
	Cancel(ctx context.Context, id int64) error
	Status(ctx context.Context, id int64) (orders.Report, error)
}

type Options struct {
	Addr         string
	AllowOrigin  string
	Push         http.Handler // websocket endpoint, optional
	RequestLimit time.Duration
	Logger       *logger.Logger
}

type Server struct {
	sess   Session
	ledger Ledger
	opts   Options
	log    *logger.Logger
	engine *gin.Engine
	http   *http.Server
}

func New(sess Session, ledger Ledger, opts Options) *Server {
	if opts.RequestLimit <= 0 {
		opts.RequestLimit = 30 * time.Second
	}
	s := &Server{
		sess:   sess,
		ledger: ledger,
		opts:   opts,
		log:    logger.OrGlobal(opts.Logger).With("component", "http"),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog(), cors(opts.AllowOrigin))
	s.RegisterRoutes(r)
	s.engine = r
	return s
}

// RegisterRoutes mounts every route at the root and again under /api.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	for _, g := range []*gin.RouterGroup{&r.RouterGroup, r.Group("/api")} {
		g.POST("/connect", s.connect)
		g.POST("/disconnect", s.disconnect)
		g.GET("/options", s.options)
		g.GET("/status", s.status)

		g.POST("/orders/single", s.placeSingle)
		g.POST("/orders/multi-leg", s.placeMultiLeg)
		g.POST("/orders/:id/cancel", s.cancelOrder)
		g.GET("/orders/:id/status", s.orderStatus)

		if s.opts.Push != nil {
			g.GET("/ws", gin.WrapH(s.opts.Push))
		}
	}
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
}

func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe blocks until ctx is done, then shuts down with a bounded
// drain.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("http listening", "addr", s.opts.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http listen %s: %w", s.opts.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Infow("http stopped")
	return nil
}
