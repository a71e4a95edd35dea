package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"propertyfeed/internal/models"
)

// Region groups the zip codes ingested for one market.
type Region struct {
	Name     string          `json:"name"`
	State    string          `json:"state"`
	ZipCodes []string        `json:"zip_codes"`
	Sources  []models.Source `json:"sources"` // empty means every structured source
}

// RegionConfig is the on-disk shape of the regions file.
type RegionConfig struct {
	Regions []Region `json:"regions"`
}

// RegionCatalog holds the region selector list handed to ingestion runs.
type RegionCatalog struct {
	mu      sync.RWMutex
	regions []Region
}

// NewRegionCatalog creates a catalog from already-parsed regions.
func NewRegionCatalog(regions []Region) *RegionCatalog {
	return &RegionCatalog{regions: regions}
}

// LoadRegions reads the regions configuration from file
func LoadRegions(path string) (*RegionCatalog, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read regions file: %w", err)
	}

	var cfg RegionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse regions file: %w", err)
	}

	for i, region := range cfg.Regions {
		if region.Name == "" {
			return nil, fmt.Errorf("region %d has no name", i)
		}
		for _, src := range region.Sources {
			if !src.IsValid() {
				return nil, fmt.Errorf("region %s: unknown source %q", region.Name, src)
			}
		}
	}

	return NewRegionCatalog(cfg.Regions), nil
}

// Regions returns a copy of all configured regions
func (c *RegionCatalog) Regions() []Region {
	c.mu.RLock()
	defer c.mu.RUnlock()

	regions := make([]Region, len(c.regions))
	copy(regions, c.regions)
	return regions
}

// RegionByName returns a region by name, case-insensitively
func (c *RegionCatalog) RegionByName(name string) *Region {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, region := range c.regions {
		if strings.EqualFold(region.Name, name) {
			r := region
			return &r
		}
	}
	return nil
}

// SelectorsFor returns the de-duplicated, sorted zip codes a source should fetch.
func (c *RegionCatalog) SelectorsFor(source models.Source) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	selectors := []string{}
	for _, region := range c.regions {
		if !regionServes(region, source) {
			continue
		}
		for _, zip := range region.ZipCodes {
			zip = strings.TrimSpace(zip)
			if zip == "" || seen[zip] {
				continue
			}
			seen[zip] = true
			selectors = append(selectors, zip)
		}
	}
	sort.Strings(selectors)
	return selectors
}

func regionServes(region Region, source models.Source) bool {
	if len(region.Sources) == 0 {
		return true
	}
	for _, s := range region.Sources {
		if s == source {
			return true
		}
	}
	return false
}
