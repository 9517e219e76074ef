package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aevon-lab/meterflow/internal/collection"
	httperr "github.com/aevon-lab/meterflow/internal/core/errors"
)

// CollectionController is the operator surface of the collection scheduler.
type CollectionController interface {
	HealthStatus() collection.HealthStatus
	UpdateInterval(d time.Duration) error
}

type CollectionHandler struct {
	scheduler CollectionController
}

func NewCollectionHandler(scheduler CollectionController) *CollectionHandler {
	return &CollectionHandler{scheduler: scheduler}
}

func (h *CollectionHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/v1/collection/status", h.requireScheduler, h.StatusHandler)
	r.PUT("/v1/collection/interval", h.requireScheduler, h.UpdateIntervalHandler)
}

func (h *CollectionHandler) requireScheduler(c *gin.Context) {
	if h.scheduler == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
			ErrorType: httperr.HttpCollectionUnavailable,
			Message:   "collection scheduler is not running",
		})
		return
	}
	c.Next()
}

// StatusHandler returns run state and cumulative collection counters.
func (h *CollectionHandler) StatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.HealthStatus())
}

type updateIntervalRequest struct {
	IntervalMillis int64 `json:"intervalMs" binding:"required"`
}

// UpdateIntervalHandler changes the tick interval at runtime.
func (h *CollectionHandler) UpdateIntervalHandler(c *gin.Context) {
	var req updateIntervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid JSON body",
			Details:   err.Error(),
		})
		return
	}

	if err := h.scheduler.UpdateInterval(time.Duration(req.IntervalMillis) * time.Millisecond); err != nil {
		if errors.Is(err, collection.ErrIntervalTooShort) {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidIntervalError,
				Message:   err.Error(),
				Details:   gin.H{"minimumMs": collection.MinInterval.Milliseconds()},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to update interval",
		})
		return
	}

	c.JSON(http.StatusOK, h.scheduler.HealthStatus())
}
