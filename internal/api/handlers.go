package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"propertyfeed/config"
	"propertyfeed/internal/errs"
	"propertyfeed/internal/ingest"
	"propertyfeed/internal/models"
	"propertyfeed/internal/query"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// Store is the part of the property store the handlers read directly.
type Store interface {
	GetPropertyStats(ctx context.Context, filters models.PropertyFilters) (models.PropertyStats, error)
	GetAreaStats(ctx context.Context, filters models.PropertyFilters) ([]models.AreaStats, error)
	RecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error)
	Ping(ctx context.Context) error
}

type Ingester interface {
	Sources() []models.Source
	Run(ctx context.Context, source models.Source, selectors []string, budget ingest.Budget) (*models.RunSummary, error)
}

type Enricher interface {
	Run(ctx context.Context, cursor models.EnrichCursor, limit int, budget time.Duration) (*models.EnrichSummary, error)
}

// Dependencies wires a Handler. Ingester and Enricher may be nil, which disables the
// admin endpoints.
type Dependencies struct {
	Store    Store
	Queries  *query.Service
	Ingester Ingester
	Enricher Enricher
	Regions  *config.RegionCatalog
	Tiers    TierResolver

	// Selectors gives the default selectors for a source when a request names none
	Selectors func(models.Source) []string

	FreeResultLimit int
	IngestBudget    ingest.Budget
}

type Handler struct {
	deps   Dependencies
	logger *logrus.Logger
}

type PropertyQuery struct {
	MinPrice     *float64 `form:"min_price" binding:"omitempty,gte=0"`
	MaxPrice     *float64 `form:"max_price" binding:"omitempty,gte=0"`
	PropertyType string   `form:"property_type"`
	City         string   `form:"city"`
	State        string   `form:"state"`
	ZipCode      string   `form:"zip_code"`
	MinBedrooms  *int     `form:"min_bedrooms" binding:"omitempty,gte=0"`
	Geohash      string   `form:"geohash" binding:"omitempty,max=12"`
	Sort         string   `form:"sort"`
	Page         int      `form:"page"`
	PageSize     int      `form:"page_size"`
}

func (q PropertyQuery) filters() models.PropertyFilters {
	return models.PropertyFilters{
		MinPrice:      q.MinPrice,
		MaxPrice:      q.MaxPrice,
		PropertyType:  q.PropertyType,
		ActiveOnly:    true,
		City:          q.City,
		State:         q.State,
		ZipCode:       q.ZipCode,
		MinBedrooms:   q.MinBedrooms,
		GeohashPrefix: q.Geohash,
	}
}

type IngestRequest struct {
	Selectors          []string `json:"selectors"`
	MaxRecords         *int     `json:"max_records" binding:"omitempty,gte=0"`
	MaxDurationSeconds *int     `json:"max_duration_seconds" binding:"omitempty,gte=0"`
}

type EnrichRequest struct {
	AfterID            uint `json:"after_id"`
	Limit              int  `json:"limit" binding:"gte=0"`
	MaxDurationSeconds int  `json:"max_duration_seconds" binding:"gte=0"`
}

func NewHandler(deps Dependencies, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	if deps.Tiers == nil {
		deps.Tiers = HeaderTierResolver{}
	}
	if deps.Selectors == nil {
		deps.Selectors = func(models.Source) []string { return nil }
	}
	return &Handler{deps: deps, logger: logger}
}

func (h *Handler) GetProperties(c *gin.Context) {
	var q PropertyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}
	order, ok := models.ParseSortOrder(q.Sort)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown sort order"})
		return
	}

	page, err := h.deps.Queries.Query(c.Request.Context(), q.filters(), q.Page, q.PageSize, order)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get properties")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to get properties"})
		return
	}

	resp := PropertiesResponse{
		Properties: page.Properties,
		Total:      page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages,
	}
	if h.deps.Tiers.Resolve(c.Request) != TierPro {
		offset := (page.Page - 1) * page.PageSize
		resp.Properties, resp.LockedCount = truncate(page.Properties, page.Total, offset, h.deps.FreeResultLimit)
		resp.Truncated = resp.LockedCount > 0
	}
	resp.Visible = len(resp.Properties)

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetProperty(c *gin.Context) {
	source := models.Source(c.Param("source"))
	if !source.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown source"})
		return
	}

	property, err := h.deps.Queries.Get(c.Request.Context(), source, c.Param("external_id"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to get property")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to get property"})
		return
	}
	if property == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
		return
	}

	c.JSON(http.StatusOK, property)
}

func (h *Handler) GetPropertyStats(c *gin.Context) {
	var q PropertyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}
	filters := q.filters()

	stats, err := h.deps.Store.GetPropertyStats(c.Request.Context(), filters)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get property stats")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to get property stats"})
		return
	}

	areas, err := h.deps.Store.GetAreaStats(c.Request.Context(), filters)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get area stats")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to get area stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats": stats,
		"areas": areas,
	})
}

func (h *Handler) GetRecentRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRunsLimit)))
	if err != nil || limit <= 0 {
		limit = defaultRunsLimit
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}

	runs, err := h.deps.Store.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get recent runs")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to get recent runs"})
		return
	}

	c.JSON(http.StatusOK, runs)
}

func (h *Handler) RunIngest(c *gin.Context) {
	if h.deps.Ingester == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Ingestion is not configured"})
		return
	}

	source := models.Source(c.Param("source"))
	if !h.serves(source) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown source"})
		return
	}

	var req IngestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.WithError(err).Error("Failed to parse ingest request")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
			return
		}
	}

	selectors := req.Selectors
	if len(selectors) == 0 {
		selectors = h.deps.Selectors(source)
	}
	budget := h.deps.IngestBudget
	if req.MaxRecords != nil {
		budget.MaxRecords = *req.MaxRecords
	}
	if req.MaxDurationSeconds != nil {
		budget.MaxDuration = time.Duration(*req.MaxDurationSeconds) * time.Second
	}

	summary, err := h.deps.Ingester.Run(c.Request.Context(), source, selectors, budget)
	if err != nil {
		h.logger.WithError(err).WithField("source", source).Error("Ingestion run failed")
		status := http.StatusInternalServerError
		if errors.Is(err, errs.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "Ingestion run failed", "summary": summary})
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *Handler) serves(source models.Source) bool {
	for _, s := range h.deps.Ingester.Sources() {
		if s == source {
			return true
		}
	}
	return false
}

func (h *Handler) RunEnrich(c *gin.Context) {
	if h.deps.Enricher == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Image enrichment is not configured"})
		return
	}

	var req EnrichRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.WithError(err).Error("Failed to parse enrich request")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
			return
		}
	}

	cursor := models.EnrichCursor{AfterID: req.AfterID}
	budget := time.Duration(req.MaxDurationSeconds) * time.Second
	summary, err := h.deps.Enricher.Run(c.Request.Context(), cursor, req.Limit, budget)
	if err != nil {
		h.logger.WithError(err).Error("Image enrichment failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Image enrichment failed", "summary": summary})
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *Handler) Health(c *gin.Context) {
	if err := h.deps.Store.Ping(c.Request.Context()); err != nil {
		h.logger.WithError(err).Error("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
