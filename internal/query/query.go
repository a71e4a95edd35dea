// Package query serves filtered, paginated reads over the property store.
package query

import (
	"context"
	"fmt"

	"propertyfeed/internal/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Reader is the read side of the property store.
type Reader interface {
	QueryPage(ctx context.Context, filters models.PropertyFilters, order models.SortOrder, offset, limit int) ([]models.Property, int64, error)
	GetPropertyDetail(ctx context.Context, source models.Source, externalID string) (*models.Property, error)
}

// Page is one page of results. Total counts every match, not just this page.
type Page struct {
	Properties []models.Property `json:"properties"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

type Service struct {
	reader Reader
}

func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

// Query returns page (1-indexed) of the properties matching filters.
func (s *Service) Query(ctx context.Context, filters models.PropertyFilters, page, pageSize int, order models.SortOrder) (*Page, error) {
	page, pageSize = Clamp(page, pageSize)
	if order == "" {
		order = models.SortVerifiedDesc
	}

	properties, total, err := s.reader.QueryPage(ctx, filters, order, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}

	return &Page{
		Properties: properties,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: TotalPages(total, pageSize),
	}, nil
}

// Get returns one property with its analysis, or nil when it does not exist.
func (s *Service) Get(ctx context.Context, source models.Source, externalID string) (*models.Property, error) {
	p, err := s.reader.GetPropertyDetail(ctx, source, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get property: %w", err)
	}
	return p, nil
}

// Clamp normalises paging input: page below 1 becomes 1, pageSize is held to 1..MaxPageSize
// and defaults to DefaultPageSize.
func Clamp(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize <= 0:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func TotalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
