package api

import (
	"net/http"
	"strings"

	"propertyfeed/internal/models"
)

// TierHeader carries the caller's subscription tier, set by the auth layer in front of us.
const TierHeader = "X-Subscription-Tier"

// Tier is the caller's access level.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// TierResolver decides the access level of a request.
type TierResolver interface {
	Resolve(r *http.Request) Tier
}

// HeaderTierResolver trusts TierHeader. Anything but "pro" is free.
type HeaderTierResolver struct{}

func (HeaderTierResolver) Resolve(r *http.Request) Tier {
	if strings.EqualFold(strings.TrimSpace(r.Header.Get(TierHeader)), string(TierPro)) {
		return TierPro
	}
	return TierFree
}

// PropertiesResponse is a query page after tier truncation. Total is always the true
// match count.
type PropertiesResponse struct {
	Properties  []models.Property `json:"properties"`
	Total       int64             `json:"total"`
	Page        int               `json:"page"`
	PageSize    int               `json:"page_size"`
	TotalPages  int               `json:"total_pages"`
	Visible     int               `json:"visible"`
	LockedCount int64             `json:"locked_count"`
	Truncated   bool              `json:"truncated"`
}

// truncate hides every row past the first limit rows of the overall ordering. offset is
// where this page starts in that ordering. A limit of 0 or less hides nothing.
func truncate(properties []models.Property, total int64, offset, limit int) ([]models.Property, int64) {
	if limit <= 0 {
		return properties, 0
	}

	allowed := limit - offset
	switch {
	case allowed <= 0:
		properties = []models.Property{}
	case allowed < len(properties):
		properties = properties[:allowed]
	}

	var locked int64
	if total > int64(limit) {
		locked = total - int64(limit)
	}
	return properties, locked
}
