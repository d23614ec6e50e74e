package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"signal-trader/internal/order"
	"signal-trader/internal/strategy"
	"signal-trader/internal/workspace"
	"signal-trader/pkg/exchanges/common"
)

func (s *Server) engine(c *gin.Context) (*strategy.Engine, bool) {
	ex := common.Exchange(c.Param("exchange"))
	e, ok := s.Engines[ex]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "UNKNOWN_EXCHANGE",
			"error": "exchange not enabled: " + string(ex),
		})
	}
	return e, ok
}

// respondError maps core errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, strategy.ErrInvalidConfig), errors.Is(err, strategy.ErrWrongExchange):
		status, code = http.StatusBadRequest, "INVALID_STRATEGY"
	case errors.Is(err, strategy.ErrUnknownContract):
		status, code = http.StatusNotFound, "UNKNOWN_CONTRACT"
	case errors.Is(err, strategy.ErrNotRunning):
		status, code = http.StatusNotFound, "NOT_RUNNING"
	case errors.Is(err, strategy.ErrAlreadyRunning):
		status, code = http.StatusConflict, "ALREADY_RUNNING"
	case errors.Is(err, strategy.ErrNoCandles), errors.Is(err, common.ErrNoResult):
		status, code = http.StatusBadGateway, "EXCHANGE_UNAVAILABLE"
	}
	c.JSON(status, gin.H{"code": code, "error": err.Error()})
}

func (s *Server) getContracts(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, e.Contracts())
}

func (s *Server) getPrice(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	q, err := e.Quote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) getBalances(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	balances, err := e.Connector().GetBalances(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balances)
}

func (s *Server) getStrategies(c *gin.Context) {
	out := []strategy.Status{}
	for _, e := range s.Engines {
		out = append(out, e.Strategies()...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Config.Exchange != out[j].Config.Exchange {
			return out[i].Config.Exchange < out[j].Config.Exchange
		}
		return out[i].ID < out[j].ID
	})
	c.JSON(http.StatusOK, out)
}

func (s *Server) startStrategy(c *gin.Context) {
	var cfg strategy.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": err.Error(),
		})
		return
	}
	e, ok := s.Engines[cfg.Exchange]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "UNKNOWN_EXCHANGE",
			"error": "exchange not enabled: " + string(cfg.Exchange),
		})
		return
	}

	in, err := e.Start(c.Request.Context(), cfg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, in.Status())
}

func (s *Server) stopStrategy(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	if err := e.Stop(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getTrades(c *gin.Context) {
	out := []order.Trade{}
	for _, e := range s.Engines {
		out = append(out, e.Trades()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	c.JSON(http.StatusOK, out)
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) getWatchlist(c *gin.Context) {
	items, err := s.Workspace.Watchlist(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) putWatchlist(c *gin.Context) {
	var items []workspace.WatchItem
	if err := c.ShouldBindJSON(&items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": err.Error(),
		})
		return
	}
	if err := s.Workspace.SaveWatchlist(c.Request.Context(), items); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getSavedStrategies(c *gin.Context) {
	cfgs, err := s.Workspace.Strategies(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfgs)
}

func (s *Server) putSavedStrategies(c *gin.Context) {
	var cfgs []strategy.Config
	if err := c.ShouldBindJSON(&cfgs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": err.Error(),
		})
		return
	}
	for i := range cfgs {
		cfgs[i] = cfgs[i].WithDefaults()
		if err := cfgs[i].Validate(); err != nil {
			respondError(c, err)
			return
		}
	}
	if err := s.Workspace.SaveStrategies(c.Request.Context(), cfgs); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
