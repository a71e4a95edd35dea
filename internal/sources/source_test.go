package sources

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertyfeed/internal/errs"
	"propertyfeed/internal/models"
	"propertyfeed/internal/ratelimit"
)

func testGovernor() *ratelimit.Governor {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return ratelimit.NewGovernor(nil, ratelimit.Policy{MaxAttempts: 1}, logger)
}

func records(selector string, from, n int) []models.RawRecord {
	out := make([]models.RawRecord, n)
	for i := range out {
		out[i] = models.RawRecord{Source: models.SourceAPI, ExternalID: fmt.Sprintf("%s-%d", selector, from+i)}
	}
	return out
}

func TestPagedWalksPagesAndSelectors(t *testing.T) {
	var calls []string
	fetch := func(ctx context.Context, selector string, offset, limit int) ([]models.RawRecord, error) {
		calls = append(calls, fmt.Sprintf("%s@%d", selector, offset))
		if selector == "78701" && offset < 4 {
			return records(selector, offset, 2), nil
		}
		if selector == "78701" {
			return records(selector, offset, 1), nil
		}
		return nil, nil
	}

	var ids []string
	for rec, err := range Paged(context.Background(), testGovernor(), models.SourceAPI, []string{"78701", "78702"}, 2, fetch) {
		require.NoError(t, err)
		ids = append(ids, rec.ExternalID)
	}

	assert.Equal(t, []string{"78701-0", "78701-1", "78701-2", "78701-3", "78701-4"}, ids)
	assert.Equal(t, []string{"78701@0", "78701@2", "78701@4", "78702@0"}, calls)
}

func TestPagedIsolatesSelectorFailures(t *testing.T) {
	fetch := func(ctx context.Context, selector string, offset, limit int) ([]models.RawRecord, error) {
		if selector == "bad" {
			return nil, &errs.StatusError{StatusCode: 400, URL: "x"}
		}
		return records(selector, 0, 1), nil
	}

	var ids []string
	var failures []error
	for rec, err := range Paged(context.Background(), testGovernor(), models.SourceAPI, []string{"bad", "good"}, 5, fetch) {
		if err != nil {
			failures = append(failures, err)
			continue
		}
		ids = append(ids, rec.ExternalID)
	}

	require.Len(t, failures, 1)
	var selErr *errs.SelectorError
	require.ErrorAs(t, failures[0], &selErr)
	assert.Equal(t, "bad", selErr.Selector)
	assert.Equal(t, []string{"good-0"}, ids)
}

func TestPagedStopsWhenSourceUnavailable(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context, selector string, offset, limit int) ([]models.RawRecord, error) {
		calls++
		return nil, fmt.Errorf("dial: %w", errs.ErrTransient)
	}

	var got []error
	for _, err := range Paged(context.Background(), testGovernor(), models.SourceAPI, []string{"a", "b", "c"}, 5, fetch) {
		got = append(got, err)
	}

	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0], errs.ErrSourceUnavailable)
	assert.Equal(t, 1, calls)
}

func TestPagedServerErrorFailsOnlySelector(t *testing.T) {
	fetch := func(ctx context.Context, selector string, offset, limit int) ([]models.RawRecord, error) {
		if selector == "bad" {
			return nil, fmt.Errorf("%w: %w", errs.ErrTransient, &errs.StatusError{StatusCode: 502, URL: "bad"})
		}
		return records(selector, 0, 1), nil
	}

	var ids []string
	var failures []error
	for rec, err := range Paged(context.Background(), testGovernor(), models.SourceAPI, []string{"bad", "good"}, 5, fetch) {
		if err != nil {
			failures = append(failures, err)
			continue
		}
		ids = append(ids, rec.ExternalID)
	}

	require.Len(t, failures, 1)
	var selErr *errs.SelectorError
	require.ErrorAs(t, failures[0], &selErr)
	assert.Equal(t, "bad", selErr.Selector)
	assert.ErrorIs(t, failures[0], errs.ErrSourceUnavailable)
	assert.Equal(t, []string{"good-0"}, ids)
}

func TestPagedIsLazy(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context, selector string, offset, limit int) ([]models.RawRecord, error) {
		calls++
		return records(selector, offset, limit), nil
	}

	seq := Paged(context.Background(), testGovernor(), models.SourceAPI, []string{"a"}, 3, fetch)
	assert.Equal(t, 0, calls)

	taken := 0
	for _, err := range seq {
		require.NoError(t, err)
		taken++
		if taken == 4 {
			break
		}
	}
	assert.Equal(t, 2, calls)

	// Restartable: a new pull starts from the first page again
	for rec := range seq {
		assert.Equal(t, "a-0", rec.ExternalID)
		break
	}
	assert.Equal(t, 3, calls)
}

func TestResolvePrice(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		assessed    PricePoint
		transaction PricePoint
		expected    string
	}{
		{"Only assessed", PricePoint{"100000", jan}, PricePoint{}, "100000"},
		{"Only transaction", PricePoint{}, PricePoint{"120000", jan}, "120000"},
		{"Newer assessment wins", PricePoint{"100000", jun}, PricePoint{"120000", jan}, "100000"},
		{"Newer sale wins", PricePoint{"100000", jan}, PricePoint{"120000", jun}, "120000"},
		{"Tie favours transaction", PricePoint{"100000", jan}, PricePoint{"120000", jan}, "120000"},
		{"Undated sale loses", PricePoint{"100000", jan}, PricePoint{"120000", time.Time{}}, "100000"},
		{"Undated assessment loses", PricePoint{"100000", time.Time{}}, PricePoint{"120000", jan}, "120000"},
		{"Both undated", PricePoint{"100000", time.Time{}}, PricePoint{"120000", time.Time{}}, "120000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolvePrice(tt.assessed, tt.transaction))
		})
	}
}

func TestMarkAbsent(t *testing.T) {
	rec := models.RawRecord{Address: "1 Main St"}
	MarkAbsent(&rec, models.FieldAddress, models.FieldCity)

	assert.False(t, rec.IsUnavailable(models.FieldAddress))
	assert.True(t, rec.IsUnavailable(models.FieldCity))
}

func TestParseDate(t *testing.T) {
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), ParseDate("2024-03-05"))
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), ParseDate("03/05/2024"))
	assert.True(t, ParseDate("yesterday").IsZero())
}
