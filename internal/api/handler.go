package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"signal-trader/internal/events"
	"signal-trader/internal/monitor"
	"signal-trader/internal/strategy"
	"signal-trader/internal/workspace"
	"signal-trader/pkg/exchanges/common"
)

// Options configures the HTTP surface.
type Options struct {
	JWTSecret   string
	APIPassword string
	TokenTTL    time.Duration
}

// Server wires HTTP endpoints around the strategy engines and the event bus.
type Server struct {
	Router    *gin.Engine
	Engines   map[common.Exchange]*strategy.Engine
	Workspace *workspace.Store
	Bus       *events.Bus
	Journal   *events.Journal
	Metrics   *monitor.SystemMetrics

	jwtSecret    string
	passwordHash []byte
	tokenTTL     time.Duration
	log          *zap.Logger
	limiters     *ipLimiters
}

func NewServer(engines map[common.Exchange]*strategy.Engine, ws *workspace.Store, bus *events.Bus, journal *events.Journal, metrics *monitor.SystemMetrics, opts Options, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}

	var hash []byte
	if opts.APIPassword != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(opts.APIPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hash = h
	}

	r := gin.New()
	s := &Server{
		Router:       r,
		Engines:      engines,
		Workspace:    ws,
		Bus:          bus,
		Journal:      journal,
		Metrics:      metrics,
		jwtSecret:    opts.JWTSecret,
		passwordHash: hash,
		tokenTTL:     opts.TokenTTL,
		log:          log.Named("api"),
		limiters:     newIPLimiters(20, 50, 5*time.Minute),
	}

	// Middleware stack (order matters!): recovery first, request id before
	// logging, CORS last before routes.
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(s.log, metrics))
	r.Use(RateLimitMiddleware(s.limiters))
	r.Use(CORSMiddleware())

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", AuthMiddleware(s.jwtSecret), s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/token", s.issueToken)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.jwtSecret))
		{
			protected.GET("/contracts/:exchange", s.getContracts)
			protected.GET("/prices/:exchange/:symbol", s.getPrice)
			protected.GET("/balances/:exchange", s.getBalances)

			protected.GET("/strategies", s.getStrategies)
			protected.POST("/strategies", s.startStrategy)
			protected.DELETE("/strategies/:exchange/:id", s.stopStrategy)
			protected.GET("/trades", s.getTrades)
			protected.GET("/metrics", s.getMetrics)

			protected.GET("/workspace/watchlist", s.getWatchlist)
			protected.PUT("/workspace/watchlist", s.putWatchlist)
			protected.GET("/workspace/strategies", s.getSavedStrategies)
			protected.PUT("/workspace/strategies", s.putSavedStrategies)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	exchanges := make([]common.Exchange, 0, len(s.Engines))
	for ex := range s.Engines {
		exchanges = append(exchanges, ex)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "exchanges": exchanges})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
