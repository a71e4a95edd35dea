package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertyfeed/internal/errs"
	"propertyfeed/internal/models"
)

func NewTestDB(t *testing.T) *Database {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	db, err := NewMemoryDatabase(logger)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testProperty(i int) *models.Property {
	bedrooms := i % 5
	sqft := 1000 + i*100
	return &models.Property{
		Source:         models.SourceAPI,
		ExternalID:     fmt.Sprintf("L-%d", i),
		Address:        fmt.Sprintf("%d Oak St", i),
		City:           "Austin",
		State:          "TX",
		ZipCode:        "78701",
		Price:          float64(100000 + i*1000),
		PropertyType:   "single_family",
		Bedrooms:       &bedrooms,
		SquareFeet:     &sqft,
		Geohash:        "9v6kpmr",
		IsActive:       true,
		LastVerifiedAt: baseTime.Add(time.Duration(i) * time.Minute),
		CreatedAt:      baseTime,
		UpdatedAt:      baseTime,
	}
}

func insert(t *testing.T, db *Database, p *models.Property) {
	t.Helper()
	require.NoError(t, db.Upsert(context.Background(), p, 0))
}

func TestUpsertInsertAndConditionalUpdate(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	p := testProperty(1)
	insert(t, db, p)
	assert.NotZero(t, p.ID)
	assert.Equal(t, int64(1), p.Version)

	// A second insert of the same identity loses
	dup := testProperty(1)
	err := db.Upsert(ctx, dup, 0)
	assert.ErrorIs(t, err, errs.ErrPersistenceConflict)

	stored, err := db.GetProperty(ctx, models.SourceAPI, "L-1")
	require.NoError(t, err)
	require.NotNil(t, stored)

	stored.Price = 250000
	stored.ImageURL = nil
	require.NoError(t, db.Upsert(ctx, stored, 1))
	assert.Equal(t, int64(2), stored.Version)

	// A writer still holding version 1 is refused
	stale := *stored
	stale.Price = 1
	err = db.Upsert(ctx, &stale, 1)
	assert.ErrorIs(t, err, errs.ErrPersistenceConflict)

	reloaded, err := db.GetProperty(ctx, models.SourceAPI, "L-1")
	require.NoError(t, err)
	assert.Equal(t, 250000.0, reloaded.Price)
	assert.Equal(t, int64(2), reloaded.Version)
}

func TestGetPropertyMissing(t *testing.T) {
	db := NewTestDB(t)

	p, err := db.GetProperty(context.Background(), models.SourceGov, "nope")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = db.GetPropertyDetail(context.Background(), models.SourceGov, "nope")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestUpsertWritesNullForAbsentFields(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	p := testProperty(1)
	insert(t, db, p)

	p.Bedrooms = nil
	require.NoError(t, db.Upsert(ctx, p, p.Version))

	stored, err := db.GetProperty(ctx, models.SourceAPI, "L-1")
	require.NoError(t, err)
	assert.Nil(t, stored.Bedrooms)
}

func TestQueryPageFiltersAndCounts(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		insert(t, db, testProperty(i))
	}
	other := testProperty(100)
	other.City = "Dallas"
	other.ZipCode = "75201-1234"
	insert(t, db, other)

	inactive := testProperty(101)
	inactive.IsActive = false
	insert(t, db, inactive)

	filters := models.PropertyFilters{City: "austin", ActiveOnly: true}
	page, total, err := db.QueryPage(ctx, filters, models.SortVerifiedDesc, 20, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)
	require.Len(t, page, 5)
	assert.Equal(t, "L-5", page[0].ExternalID)
	assert.Equal(t, "L-1", page[4].ExternalID)

	_, total, err = db.QueryPage(ctx, models.PropertyFilters{ZipCode: "75201"}, "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "five digit zip matches ZIP+4")

	minPrice := 120000.0
	maxPrice := 122000.0
	page, total, err = db.QueryPage(ctx, models.PropertyFilters{MinPrice: &minPrice, MaxPrice: &maxPrice}, models.SortPriceAsc, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total, "price bounds are inclusive")
	assert.Equal(t, []string{"L-20", "L-21", "L-22"}, externalIDs(page))

	beds := 4
	_, total, err = db.QueryPage(ctx, models.PropertyFilters{MinBedrooms: &beds, City: "Austin"}, "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	page, total, err = db.QueryPage(ctx, models.PropertyFilters{}, "", 1000, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(27), total)
	assert.Empty(t, page)
}

func TestQueryPageMatchesInMemoryPredicate(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	var all []*models.Property
	for i := 1; i <= 12; i++ {
		p := testProperty(i)
		if i%3 == 0 {
			p.State = "tx"
			p.Geohash = "dr5regw"
			p.PropertyType = "condo"
		}
		insert(t, db, p)
		all = append(all, p)
	}

	for _, filters := range []models.PropertyFilters{
		{State: "TX"},
		{GeohashPrefix: "dr5"},
		{PropertyType: "condo"},
		{PropertyType: models.PropertyTypeAll},
	} {
		want := 0
		for _, p := range all {
			if filters.Matches(p) {
				want++
			}
		}
		_, total, err := db.QueryPage(ctx, filters, "", 0, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(want), total, "filters %+v", filters)
	}
}

func TestImageEnrichmentQueries(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		insert(t, db, testProperty(i))
	}
	withImage := testProperty(4)
	img := "https://img.example.com/4.jpg"
	withImage.ImageURL = &img
	insert(t, db, withImage)

	missing, err := db.ListMissingImages(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"L-1", "L-2", "L-3"}, externalIDs(missing))

	missing, err = db.ListMissingImages(ctx, missing[0].ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"L-2"}, externalIDs(missing))

	changed, err := db.SetImageURL(ctx, missing[0].ID, "https://img.example.com/2.jpg")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = db.SetImageURL(ctx, withImage.ID, "https://img.example.com/other.jpg")
	require.NoError(t, err)
	assert.False(t, changed, "existing images are never replaced")

	stored, err := db.GetProperty(ctx, models.SourceAPI, "L-4")
	require.NoError(t, err)
	assert.Equal(t, img, *stored.ImageURL)
}

func TestRunSummaries(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	for i, source := range models.KnownSources {
		summary := &models.RunSummary{
			RunID:      fmt.Sprintf("run-%d", i),
			Source:     source,
			StartedAt:  baseTime.Add(time.Duration(i) * time.Hour),
			FinishedAt: baseTime.Add(time.Duration(i)*time.Hour + time.Minute),
			Attempted:  3,
			Inserted:   2,
			Failed:     1,
			StopReason: models.StopCompleted,
		}
		summary.AddError("selector \"78701\": boom")
		require.NoError(t, db.RecordRun(ctx, summary))
	}

	runs, err := db.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, []string{"selector \"78701\": boom"}, runs[0].Errors)
}

func TestStats(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	a := testProperty(0)
	a.Price = 200000
	sqft := 1000
	a.SquareFeet = &sqft
	insert(t, db, a)

	b := testProperty(1)
	b.Price = 400000
	b.ZipCode = "78702-0001"
	b.SquareFeet = &sqft
	b.IsActive = false
	insert(t, db, b)

	stats, err := db.GetPropertyStats(ctx, models.PropertyFilters{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalProperties)
	assert.Equal(t, int64(1), stats.TotalActive)
	assert.InDelta(t, 300000, stats.AveragePrice, 0.01)
	assert.InDelta(t, 300, stats.PricePerSqft, 0.01)

	areas, err := db.GetAreaStats(ctx, models.PropertyFilters{})
	require.NoError(t, err)
	require.Len(t, areas, 2)
	assert.Equal(t, "78701", areas[0].ZipCode)
	assert.Equal(t, "78702", areas[1].ZipCode)
	assert.Equal(t, int64(1), areas[1].PropertyCount)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.ErrorIs(t, classify(sqlite3.Error{Code: sqlite3.ErrBusy}), errs.ErrPersistenceConflict)
	assert.ErrorIs(t, classify(sqlite3.Error{Code: sqlite3.ErrConstraint}), errs.ErrPersistenceConflict)
	assert.ErrorIs(t, classify(sqlite3.Error{Code: sqlite3.ErrIoErr}), errs.ErrStoreUnavailable)
	assert.ErrorIs(t, classify(errors.New("database is closed")), errs.ErrStoreUnavailable)
	assert.Equal(t, context.Canceled, classify(context.Canceled))
}

func externalIDs(properties []models.Property) []string {
	ids := make([]string, 0, len(properties))
	for _, p := range properties {
		ids = append(ids, p.ExternalID)
	}
	return ids
}
