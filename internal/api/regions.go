package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"propertyfeed/config"
	"propertyfeed/internal/models"
)

// RegionView is a configured region with the selectors each source will fetch for it.
type RegionView struct {
	config.Region
	Sources []models.Source `json:"sources"`
}

func regionView(region config.Region) RegionView {
	sources := region.Sources
	if len(sources) == 0 {
		sources = models.KnownSources
	}
	return RegionView{Region: region, Sources: sources}
}

// ListRegions returns all configured regions
func (h *Handler) ListRegions(c *gin.Context) {
	if h.deps.Regions == nil {
		c.JSON(http.StatusOK, []RegionView{})
		return
	}

	regions := h.deps.Regions.Regions()
	views := make([]RegionView, 0, len(regions))
	for _, region := range regions {
		views = append(views, regionView(region))
	}
	c.JSON(http.StatusOK, views)
}

// GetRegion returns a specific region
func (h *Handler) GetRegion(c *gin.Context) {
	var region *config.Region
	if h.deps.Regions != nil {
		region = h.deps.Regions.RegionByName(c.Param("name"))
	}
	if region == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Region not found"})
		return
	}
	c.JSON(http.StatusOK, regionView(*region))
}
