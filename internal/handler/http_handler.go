package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/patteeraL/movra/services/currency-converter/internal/model"
	"github.com/patteeraL/movra/services/currency-converter/internal/provider"
	"github.com/patteeraL/movra/services/currency-converter/internal/service"
	"go.uber.org/zap"
)

// ConverterService is the part of the service layer the handlers call
type ConverterService interface {
	Convert(ctx context.Context, req model.ConvertRequest) (*model.Conversion, error)
	RecentConversions(ctx context.Context) ([]model.ConversionRecord, error)
	DeleteRecent(ctx context.Context, pair string) error
	Countries(ctx context.Context) ([]model.Country, error)
	Currencies(ctx context.Context) ([]model.Currency, error)
	Flag(ctx context.Context, code string) (*service.Asset, error)
	State() model.AppStatus
	Health(ctx context.Context) error
}

// CacheStatusSource reports the resource cache status
type CacheStatusSource interface {
	Status(ctx context.Context) (*model.CacheStatus, error)
}

// Options configures optional routes
type Options struct {
	// MetricsHandler serves MetricsPath when set
	MetricsHandler http.Handler
	MetricsPath    string
	// Cache is nil when the resource cache is disabled
	Cache CacheStatusSource
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	converter ConverterService
	opts      Options
	logger    *zap.Logger
}

// NewHTTPHandler creates a new HTTPHandler
func NewHTTPHandler(converter ConverterService, opts Options, logger *zap.Logger) *HTTPHandler {
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	return &HTTPHandler{
		converter: converter,
		opts:      opts,
		logger:    logger,
	}
}

// SetupRoutes configures the HTTP routes
func (h *HTTPHandler) SetupRoutes(r *gin.Engine) {
	// Health check
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)

	// Metrics
	if h.opts.MetricsHandler != nil {
		r.GET(h.opts.MetricsPath, gin.WrapH(h.opts.MetricsHandler))
	}

	api := r.Group("/api")
	{
		api.GET("/countries", h.GetCountries)
		api.GET("/currencies", h.GetCurrencies)
		api.GET("/flags/:code", h.GetFlag)
		api.GET("/status", h.GetStatus)
		api.GET("/cache", h.GetCacheStatus)

		conversions := api.Group("/conversions")
		{
			conversions.POST("", h.Convert)
			conversions.GET("/recent", h.GetRecent)
			conversions.DELETE("/recent/:pair", h.DeleteRecent)
		}
	}
}

// Health returns the health status
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "currency-converter",
	})
}

// Ready reports whether the record store is reachable
func (h *HTTPHandler) Ready(c *gin.Context) {
	if err := h.converter.Health(c.Request.Context()); err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"service": "currency-converter",
			"error":   "record store unreachable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"service": "currency-converter",
	})
}

// Convert converts an amount and records the conversion
func (h *HTTPHandler) Convert(c *gin.Context) {
	var req model.ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	conversion, err := h.converter.Convert(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "Failed to convert", err)
		return
	}

	c.JSON(http.StatusOK, conversion)
}

// GetRecent returns the recent conversions, newest first
func (h *HTTPHandler) GetRecent(c *gin.Context) {
	records, err := h.converter.RecentConversions(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to list recent conversions", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversions": records})
}

// DeleteRecent removes one pair from the recent conversions
func (h *HTTPHandler) DeleteRecent(c *gin.Context) {
	if err := h.converter.DeleteRecent(c.Request.Context(), c.Param("pair")); err != nil {
		h.writeError(c, "Failed to delete recent conversion", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetCountries returns the countries sorted by name
func (h *HTTPHandler) GetCountries(c *gin.Context) {
	countries, err := h.converter.Countries(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to load countries", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"countries": countries})
}

// GetCurrencies returns the supported currencies
func (h *HTTPHandler) GetCurrencies(c *gin.Context) {
	currencies, err := h.converter.Currencies(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to load currencies", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"currencies": currencies})
}

// GetFlag serves a country flag icon
func (h *HTTPHandler) GetFlag(c *gin.Context) {
	asset, err := h.converter.Flag(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, "Failed to load flag", err)
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, asset.ContentType, asset.Body)
}

// GetStatus returns the application state
func (h *HTTPHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.converter.State())
}

// GetCacheStatus returns the resource cache status
func (h *HTTPHandler) GetCacheStatus(c *gin.Context) {
	if h.opts.Cache == nil {
		c.JSON(http.StatusOK, gin.H{"state": "disabled"})
		return
	}

	status, err := h.opts.Cache.Status(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to read cache status", err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// writeError maps a service error to a status code
func (h *HTTPHandler) writeError(c *gin.Context, msg string, err error) {
	var (
		validation  *service.ValidationError
		network     *provider.NetworkError
		unsupported provider.ErrUnsupportedPair
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Message, "field": validation.Field})
		return
	case errors.As(err, &unsupported):
		c.JSON(http.StatusNotFound, gin.H{"error": service.ClientMessage(err)})
		return
	case errors.As(err, &network):
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": service.ClientMessage(err), "offline": network.StatusCode == 0})
		return
	}

	h.logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
