package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"migration-agent/agent/database"
	"migration-agent/agent/internal/blacklist"
	"migration-agent/agent/internal/models"
	"migration-agent/agent/internal/pipeline"
	"migration-agent/agent/internal/sentiment"
	"migration-agent/shared/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Runner triggers and reports pipeline runs.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Report, error)
	LastReport() (*pipeline.Report, bool)
}

type API struct {
	store    *database.Store
	registry *blacklist.Registry
	runner   Runner
	scorer   sentiment.Scorer
	log      *logger.Logger
}

func NewAPI(store *database.Store, registry *blacklist.Registry, runner Runner, scorer sentiment.Scorer, appLogger *logger.Logger) *API {
	if scorer == nil {
		scorer = sentiment.NewVaderScorer()
	}
	return &API{store: store, registry: registry, runner: runner, scorer: scorer, log: appLogger}
}

type BlacklistRequest struct {
	Kind   string `json:"kind" binding:"required"`
	Value  string `json:"value" binding:"required"`
	Reason string `json:"reason"`
}

func RegisterRoutes(router *gin.Engine, appLogger *logger.Logger) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Migration agent is running."})
	})
	router.NoRoute(func(c *gin.Context) {
		appLogger.Debug("Unknown route", zap.String("path", c.Request.URL.Path))
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}

func RegisterAPIRoutes(router *gin.Engine, api *API) {
	apiGroup := router.Group("/api/v1")
	{
		apiGroup.GET("/health", api.health)
		apiGroup.GET("/coins", api.listCoins)
		apiGroup.GET("/coins/:symbol/posts", api.coinPosts)
		apiGroup.GET("/blacklist", api.listBlacklist)
		apiGroup.POST("/blacklist", api.addBlacklist)
		apiGroup.GET("/trades", api.listTrades)
		apiGroup.POST("/run", api.triggerRun)
	}
	api.log.Info("API routes registered under /api/v1")
}

func (a *API) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if a.runner != nil {
		last, running := a.runner.LastReport()
		resp["running"] = running
		if last != nil {
			resp["lastRun"] = gin.H{
				"startedAt":   last.StartedAt,
				"finishedAt":  last.FinishedAt,
				"stageErrors": last.StageErrors,
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) listCoins(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	var status models.VerificationStatus
	if raw := c.Query("status"); raw != "" {
		if status, ok = models.ParseVerificationStatus(raw); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be Unverified, Good or Bad"})
			return
		}
	}
	coins, err := a.store.ListCoins(c.Request.Context(), status, limit)
	if err != nil {
		a.log.Error("Failed to list coins", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list coins"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"coins": coins, "count": len(coins)})
}

func (a *API) coinPosts(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	ctx := c.Request.Context()

	coins, err := a.store.CoinsBySymbol(ctx, symbol)
	if err != nil {
		a.log.Error("Failed to load coin", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load coin"})
		return
	}
	if len(coins) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "coin not found"})
		return
	}

	var posts []models.SocialPost
	for _, coin := range coins {
		p, err := a.store.PostsByCoin(ctx, coin.ID)
		if err != nil {
			a.log.Error("Failed to load posts", zap.String("symbol", symbol), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load posts"})
			return
		}
		posts = append(posts, p...)
	}

	resp := gin.H{"symbol": symbol, "posts": posts, "count": len(posts)}
	if mean, ok := sentiment.Mean(posts, a.scorer); ok {
		resp["meanSentiment"] = mean
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) listBlacklist(c *gin.Context) {
	c.JSON(http.StatusOK, a.registry.Snapshot())
}

func (a *API) addBlacklist(c *gin.Context) {
	var req BlacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.log.Warn("Invalid blacklist request", zap.Error(err), zap.String("remoteAddr", c.RemoteIP()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind and value are required"})
		return
	}
	kind, ok := blacklist.ParseKind(req.Kind)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be coin, developer or handle"})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "api"
	}

	added, err := a.registry.Add(c.Request.Context(), models.BlacklistEntry{Kind: kind, Value: req.Value, Reason: reason})
	if err != nil {
		a.log.Error("Failed to add blacklist entry", zap.String("kind", string(kind)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update blacklist"})
		return
	}
	value := blacklist.Normalize(kind, req.Value)
	if added == 0 {
		c.JSON(http.StatusOK, gin.H{"kind": kind, "value": value, "added": false})
		return
	}
	a.log.Info("Blacklist entry added via API", zap.String("kind", string(kind)), zap.String("value", value))
	c.JSON(http.StatusCreated, gin.H{"kind": kind, "value": value, "added": true})
}

func (a *API) listTrades(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	actions, err := a.store.ListTradeActions(c.Request.Context(), limit)
	if err != nil {
		a.log.Error("Failed to list trade actions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": actions, "count": len(actions)})
}

func (a *API) triggerRun(c *gin.Context) {
	if a.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pipeline not configured"})
		return
	}
	// a client disconnect must not abandon the run
	rep, err := a.runner.Run(context.WithoutCancel(c.Request.Context()))
	if errors.Is(err, pipeline.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		a.log.Error("Triggered pipeline run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": rep})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}
