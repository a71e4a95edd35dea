package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"propertyfeed/internal/errs"
	"propertyfeed/internal/models"
)

type Database struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewDatabase opens (creating if needed) the sqlite database at dbPath.
func NewDatabase(dbPath string, logger *logrus.Logger) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return open(fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", dbPath), logger)
}

// NewMemoryDatabase opens a private in-memory database, used by tests.
func NewMemoryDatabase(logger *logrus.Logger) (*Database, error) {
	return open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString()), logger)
}

func open(dsn string, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY between our own goroutines
	sqlDB.SetMaxOpenConns(1)

	return &Database{db: db, logger: logger}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping reports whether the store is reachable.
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return classify(err)
	}
	return classify(sqlDB.PingContext(ctx))
}

// GetProperty looks a property up by its identity key. It returns nil, nil when absent.
func (d *Database) GetProperty(ctx context.Context, source models.Source, externalID string) (*models.Property, error) {
	var p models.Property
	err := d.db.WithContext(ctx).
		Where("source = ? AND external_id = ?", source, externalID).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

// GetPropertyDetail is GetProperty with the analysis preloaded.
func (d *Database) GetPropertyDetail(ctx context.Context, source models.Source, externalID string) (*models.Property, error) {
	var p models.Property
	err := d.db.WithContext(ctx).
		Preload("Analysis").
		Where("source = ? AND external_id = ?", source, externalID).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

// Upsert writes p only if the stored row is still at expectedVersion; 0 means the row
// must not exist yet. On success p.Version holds the new version. A lost race returns
// errs.ErrPersistenceConflict.
func (d *Database) Upsert(ctx context.Context, p *models.Property, expectedVersion int64) error {
	next := expectedVersion + 1

	if expectedVersion == 0 {
		row := *p
		row.ID = 0
		row.Version = next
		row.Analysis = nil

		tx := d.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&row)
		if tx.Error != nil {
			return classify(tx.Error)
		}
		if tx.RowsAffected == 0 {
			return fmt.Errorf("%w: %s/%s already exists", errs.ErrPersistenceConflict, p.Source, p.ExternalID)
		}
		p.ID = row.ID
		p.Version = next
		return nil
	}

	values := columns(p)
	values["version"] = next

	tx := d.db.WithContext(ctx).
		Model(&models.Property{}).
		Where("id = ? AND version = ?", p.ID, expectedVersion).
		Updates(values)
	if tx.Error != nil {
		return classify(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s changed since version %d", errs.ErrPersistenceConflict, p.Source, p.ExternalID, expectedVersion)
	}
	p.Version = next
	return nil
}

// columns lists every mutable column so nil pointers are written as NULL.
func columns(p *models.Property) map[string]interface{} {
	return map[string]interface{}{
		"address":          p.Address,
		"city":             p.City,
		"state":            p.State,
		"zip_code":         p.ZipCode,
		"price":            p.Price,
		"property_type":    p.PropertyType,
		"bedrooms":         p.Bedrooms,
		"bathrooms":        p.Bathrooms,
		"square_feet":      p.SquareFeet,
		"year_built":       p.YearBuilt,
		"lot_size":         p.LotSize,
		"latitude":         p.Latitude,
		"longitude":        p.Longitude,
		"geohash":          p.Geohash,
		"image_url":        p.ImageURL,
		"listing_url":      p.ListingURL,
		"description":      p.Description,
		"is_active":        p.IsActive,
		"last_verified_at": p.LastVerifiedAt,
		"updated_at":       p.UpdatedAt,
	}
}

// QueryPage returns one page of properties matching filters together with the total
// match count under the same predicate.
func (d *Database) QueryPage(ctx context.Context, filters models.PropertyFilters, order models.SortOrder, offset, limit int) ([]models.Property, int64, error) {
	var total int64
	if err := applyFilters(d.db.WithContext(ctx).Model(&models.Property{}), filters).Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}

	properties := []models.Property{}
	if total == 0 || int64(offset) >= total {
		return properties, total, nil
	}

	err := applyFilters(d.db.WithContext(ctx), filters).
		Preload("Analysis").
		Order(orderClause(order)).
		Offset(offset).
		Limit(limit).
		Find(&properties).Error
	if err != nil {
		return nil, 0, classify(err)
	}
	return properties, total, nil
}

func applyFilters(db *gorm.DB, f models.PropertyFilters) *gorm.DB {
	if f.ActiveOnly {
		db = db.Where("is_active = ?", true)
	}
	if f.MinPrice != nil {
		db = db.Where("price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		db = db.Where("price <= ?", *f.MaxPrice)
	}
	if !f.AnyPropertyType() {
		db = db.Where("property_type = ?", f.PropertyType)
	}
	if f.City != "" {
		db = db.Where("LOWER(city) = LOWER(?)", f.City)
	}
	if f.State != "" {
		db = db.Where("UPPER(state) = UPPER(?)", f.State)
	}
	if f.ZipCode != "" {
		db = db.Where("(zip_code = ? OR zip_code LIKE ?)", f.ZipCode, f.ZipCode+"-%")
	}
	if f.MinBedrooms != nil {
		db = db.Where("bedrooms IS NOT NULL AND bedrooms >= ?", *f.MinBedrooms)
	}
	if f.GeohashPrefix != "" {
		db = db.Where("geohash LIKE ?", strings.ToLower(f.GeohashPrefix)+"%")
	}
	return db
}

func orderClause(order models.SortOrder) string {
	switch order {
	case models.SortPriceAsc:
		return "price ASC, id ASC"
	case models.SortPriceDesc:
		return "price DESC, id ASC"
	case models.SortNewest:
		return "created_at DESC, id DESC"
	default:
		return "last_verified_at DESC, id DESC"
	}
}

// ListMissingImages returns up to limit properties without an image, in id order after
// afterID.
func (d *Database) ListMissingImages(ctx context.Context, afterID uint, limit int) ([]models.Property, error) {
	var properties []models.Property
	err := d.db.WithContext(ctx).
		Where("image_url IS NULL AND id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&properties).Error
	if err != nil {
		return nil, classify(err)
	}
	return properties, nil
}

// SetImageURL sets the image only while none is stored. It reports whether a row changed.
func (d *Database) SetImageURL(ctx context.Context, id uint, imageURL string) (bool, error) {
	tx := d.db.WithContext(ctx).
		Model(&models.Property{}).
		Where("id = ? AND image_url IS NULL", id).
		Update("image_url", imageURL)
	if tx.Error != nil {
		return false, classify(tx.Error)
	}
	return tx.RowsAffected > 0, nil
}

// RecordRun persists a run summary.
func (d *Database) RecordRun(ctx context.Context, summary *models.RunSummary) error {
	if err := d.db.WithContext(ctx).Create(summary).Error; err != nil {
		return classify(err)
	}
	return nil
}

// RecentRuns returns the latest run summaries, newest first.
func (d *Database) RecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	runs := []models.RunSummary{}
	err := d.db.WithContext(ctx).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, classify(err)
	}
	return runs, nil
}

// GetPropertyStats aggregates the properties matching filters.
func (d *Database) GetPropertyStats(ctx context.Context, filters models.PropertyFilters) (models.PropertyStats, error) {
	var stats models.PropertyStats
	err := applyFilters(d.db.WithContext(ctx).Model(&models.Property{}), filters).
		Select(`COUNT(*) AS total_properties,
			COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0) AS total_active,
			COALESCE(AVG(price), 0) AS average_price,
			COALESCE(AVG(price / NULLIF(square_feet, 0)), 0) AS price_per_sqft`).
		Scan(&stats).Error
	if err != nil {
		return stats, classify(err)
	}
	return stats, nil
}

// GetAreaStats groups the properties matching filters by five digit zip code.
func (d *Database) GetAreaStats(ctx context.Context, filters models.PropertyFilters) ([]models.AreaStats, error) {
	stats := []models.AreaStats{}
	err := applyFilters(d.db.WithContext(ctx).Model(&models.Property{}), filters).
		Where("zip_code <> ''").
		Select(`substr(zip_code, 1, 5) AS zip_code,
			COUNT(*) AS property_count,
			AVG(price) AS average_price,
			COALESCE(AVG(price / NULLIF(square_feet, 0)), 0) AS avg_price_per_sqft`).
		Group("substr(zip_code, 1, 5)").
		Order("zip_code ASC").
		Scan(&stats).Error
	if err != nil {
		return nil, classify(err)
	}
	return stats, nil
}

// classify maps driver failures onto the error taxonomy. Busy, locked and constraint
// errors mean another writer got there first.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %w", errs.ErrPersistenceConflict, err)
		}
	}
	return fmt.Errorf("%w: %w", errs.ErrStoreUnavailable, err)
}
