package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourorg/derivatives-dashboard/internal/model"
	"github.com/yourorg/derivatives-dashboard/internal/service"
	"github.com/yourorg/derivatives-dashboard/internal/strategy"
)

// BacktestHandler handles backtest HTTP requests
type BacktestHandler struct {
	backtestService *service.BacktestService
	logger          *zap.Logger
}

// NewBacktestHandler creates a new backtest handler
func NewBacktestHandler(backtestService *service.BacktestService, logger *zap.Logger) *BacktestHandler {
	return &BacktestHandler{
		backtestService: backtestService,
		logger:          logger,
	}
}

// CreateBacktest handles creating a new backtest run in DRAFT
func (h *BacktestHandler) CreateBacktest(c *gin.Context) {
	var request model.CreateBacktestRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.backtestService.Create(c.Request.Context(), &request)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": verr.Error(),
				"field": verr.Field,
			})
			return
		}
		h.logger.Error("Failed to create backtest",
			zap.Error(err),
			zap.String("strategy", request.Strategy))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create backtest"})
		return
	}

	c.JSON(http.StatusCreated, run)
}

// StartBacktest handles starting a DRAFT run
func (h *BacktestHandler) StartBacktest(c *gin.Context) {
	id := c.Param("id")
	if err := h.backtestService.Start(c.Request.Context(), id); err != nil {
		h.respondTransitionError(c, id, "start", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": model.RunStatusRunning})
}

// StopBacktest handles stopping a RUNNING run
func (h *BacktestHandler) StopBacktest(c *gin.Context) {
	id := c.Param("id")
	if err := h.backtestService.Stop(c.Request.Context(), id); err != nil {
		h.respondTransitionError(c, id, "stop", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": model.RunStatusFailed})
}

// GetBacktest handles retrieving one run
func (h *BacktestHandler) GetBacktest(c *gin.Context) {
	id := c.Param("id")
	run, err := h.backtestService.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Backtest not found"})
			return
		}
		h.logger.Error("Failed to get backtest", zap.Error(err), zap.String("id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve backtest"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetBacktestResult handles retrieving a completed run's result
func (h *BacktestHandler) GetBacktestResult(c *gin.Context) {
	id := c.Param("id")
	run, err := h.backtestService.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Backtest not found"})
			return
		}
		h.logger.Error("Failed to get backtest", zap.Error(err), zap.String("id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve backtest"})
		return
	}
	if run.Result == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "No result for this run",
			"status": run.Status,
		})
		return
	}
	c.JSON(http.StatusOK, run.Result)
}

// ListBacktests handles listing run history, newest first
func (h *BacktestHandler) ListBacktests(c *gin.Context) {
	runs := h.backtestService.List(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"backtests": runs,
		"meta":      gin.H{"total": len(runs)},
	})
}

// ListStrategies serves the strategy parameter-schema table the UI
// renders parameter controls from
func (h *BacktestHandler) ListStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": strategy.List()})
}

func (h *BacktestHandler) respondTransitionError(c *gin.Context, id, action string, err error) {
	var terr *model.IllegalTransitionError
	switch {
	case errors.Is(err, model.ErrRunNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Backtest not found"})
	case errors.As(err, &terr):
		c.JSON(http.StatusConflict, gin.H{"error": terr.Error()})
	default:
		h.logger.Error("Backtest transition failed",
			zap.Error(err),
			zap.String("id", id),
			zap.String("action", action))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Operation failed"})
	}
}
