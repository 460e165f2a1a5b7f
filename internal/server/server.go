// Package server exposes the stored pipeline data over a read-only HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/TruthMesh/internal/database"
	"github.com/Alias1177/TruthMesh/models"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Store is the read side of the database
type Store interface {
	ListRawEvents(ctx context.Context, p database.Page) ([]models.RawEvent, error)
	ListSignals(ctx context.Context, category string, p database.Page) ([]models.Signal, error)
	ListPredictions(ctx context.Context, p database.Page) ([]models.Prediction, error)
	ListMarkets(ctx context.Context, p database.Page) ([]models.Market, error)
	ListMarketPredictions(ctx context.Context, p database.Page) ([]models.MarketPrediction, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

// Server serves the read API
type Server struct {
	store  Store
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a server
func New(store Store) *Server {
	return &Server{
		store:  store,
		now:    time.Now,
		logger: log.With().Str("component", "api").Logger(),
	}
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "TruthMesh - healthy")
	})
	r.GET("/health", s.health)

	api := r.Group("/api")
	{
		api.GET("/events", s.listEvents)
		api.GET("/signals", s.listSignals)
		api.GET("/predictions", s.listPredictions)
		api.GET("/markets", s.listMarkets)
		api.GET("/market-predictions", s.listMarketPredictions)
		api.GET("/stats", s.stats)
	}
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	return <-errCh
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("Request served")
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": s.now().UTC().Format(time.RFC3339)})
}

// page reads limit and offset, writing a 400 response when they are invalid
func page(c *gin.Context) (database.Page, bool) {
	p := database.Page{Limit: DefaultLimit}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be an integer between 1 and %d", MaxLimit)})
			return p, false
		}
		p.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return p, false
		}
		p.Offset = offset
	}
	return p, true
}

// list runs a paged query and writes its result
func list[T any](s *Server, c *gin.Context, what string, query func(context.Context, database.Page) ([]T, error)) {
	p, ok := page(c)
	if !ok {
		return
	}
	items, err := query(c.Request.Context(), p)
	if err != nil {
		s.logger.Error().Err(err).Str("collection", what).Msg("Failed to list")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load " + what})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": p.Limit, "offset": p.Offset})
}

func (s *Server) listEvents(c *gin.Context) {
	list(s, c, "events", s.store.ListRawEvents)
}

func (s *Server) listSignals(c *gin.Context) {
	category := c.Query("category")
	list(s, c, "signals", func(ctx context.Context, p database.Page) ([]models.Signal, error) {
		return s.store.ListSignals(ctx, category, p)
	})
}

func (s *Server) listPredictions(c *gin.Context) {
	list(s, c, "predictions", s.store.ListPredictions)
}

func (s *Server) listMarkets(c *gin.Context) {
	list(s, c, "markets", s.store.ListMarkets)
}

func (s *Server) listMarketPredictions(c *gin.Context) {
	list(s, c, "market predictions", s.store.ListMarketPredictions)
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to compute stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
