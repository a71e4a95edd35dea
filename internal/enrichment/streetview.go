package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"propertyfeed/internal/httpclient"
	"propertyfeed/internal/models"
	"propertyfeed/internal/ratelimit"
)

// ImagerySource is the governor lane street-level imagery calls are spaced on.
const ImagerySource models.Source = "imagery"

const (
	streetViewCacheFile = "streetview_cache.json"
	streetViewImageSize = "640x400"
)

type streetViewMetadata struct {
	Status string `json:"status"`
	PanoID string `json:"pano_id"`
}

// StreetView resolves a street-level photo for a postal address. The metadata endpoint
// is checked first so only addresses with imagery get an image URL. Found images are
// cached in memory and on disk; misses are asked again on a later pass.
type StreetView struct {
	client    *resty.Client
	baseURL   string
	apiKey    string
	governor  *ratelimit.Governor
	logger    *logrus.Logger
	cacheDir  string
	cache     map[string]string
	cacheLock sync.RWMutex
}

func NewStreetView(client *resty.Client, baseURL, apiKey string, governor *ratelimit.Governor, cacheDir string, logger *logrus.Logger) *StreetView {
	s := &StreetView{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		governor: governor,
		logger:   logger,
		cacheDir: cacheDir,
		cache:    make(map[string]string),
	}

	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			logger.WithError(err).Warn("Could not create imagery cache directory")
		}
		s.loadCache()
	}
	return s
}

func (s *StreetView) Name() string {
	return "streetview"
}

func (s *StreetView) loadCache() {
	data, err := os.ReadFile(filepath.Join(s.cacheDir, streetViewCacheFile))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).Warn("Could not load imagery cache")
		}
		return
	}

	if err := json.Unmarshal(data, &s.cache); err != nil {
		s.logger.WithError(err).Error("Failed to parse imagery cache")
		return
	}
	for key, imageURL := range s.cache {
		if imageURL == "" {
			delete(s.cache, key)
		}
	}

	s.logger.Infof("Loaded %d cached street view images", len(s.cache))
}

func (s *StreetView) saveCache() {
	if s.cacheDir == "" {
		return
	}

	s.cacheLock.RLock()
	data, err := json.Marshal(s.cache)
	s.cacheLock.RUnlock()
	if err != nil {
		s.logger.WithError(err).Error("Failed to marshal imagery cache")
		return
	}

	if err := os.WriteFile(filepath.Join(s.cacheDir, streetViewCacheFile), data, 0644); err != nil {
		s.logger.WithError(err).Error("Failed to save imagery cache")
	}
}

// FindImage returns an image URL for p, or "" when no imagery exists at its address.
func (s *StreetView) FindImage(ctx context.Context, p *models.Property) (string, error) {
	if s.apiKey == "" {
		return "", nil
	}

	address := fullAddress(p)
	if address == "" {
		return "", nil
	}
	cacheKey := strings.ToLower(address)

	s.cacheLock.RLock()
	cached, ok := s.cache[cacheKey]
	s.cacheLock.RUnlock()
	if ok {
		s.logger.WithFields(logrus.Fields{
			"address": address,
			"source":  "cache",
		}).Debug("Found street view image in cache")
		return cached, nil
	}

	var meta streetViewMetadata
	err := s.governor.Do(ctx, ImagerySource, func(ctx context.Context) error {
		resp, err := s.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{"location": address, "key": s.apiKey}).
			SetResult(&meta).
			Get(s.baseURL + "/metadata")
		return httpclient.Check(resp, err)
	})
	if err != nil {
		return "", fmt.Errorf("street view metadata lookup failed: %w", err)
	}

	var imageURL string
	switch meta.Status {
	case "OK":
		imageURL = s.imageURL(address)
	case "ZERO_RESULTS", "NOT_FOUND":
	default:
		// Quota and key errors say nothing about the address
		return "", fmt.Errorf("street view metadata status %q", meta.Status)
	}

	s.logger.WithFields(logrus.Fields{
		"address": address,
		"found":   imageURL != "",
		"source":  "streetview",
	}).Info("Checked street-level imagery")

	if imageURL == "" {
		return "", nil
	}

	s.cacheLock.Lock()
	s.cache[cacheKey] = imageURL
	s.cacheLock.Unlock()
	s.saveCache()

	return imageURL, nil
}

func (s *StreetView) imageURL(address string) string {
	q := url.Values{
		"size":     []string{streetViewImageSize},
		"location": []string{address},
		"key":      []string{s.apiKey},
	}
	return s.baseURL + "?" + q.Encode()
}

func fullAddress(p *models.Property) string {
	parts := []string{}
	for _, part := range []string{p.Address, p.City, strings.TrimSpace(p.State + " " + p.ZipCode)} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 || strings.TrimSpace(p.Address) == "" {
		return ""
	}
	return strings.Join(parts, ", ")
}
