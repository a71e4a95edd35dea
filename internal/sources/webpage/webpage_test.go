package webpage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertyfeed/internal/errs"
	"propertyfeed/internal/extraction"
	"propertyfeed/internal/models"
	"propertyfeed/internal/ratelimit"
)

const listingPage = `<html><head>
<script type="application/ld+json">
{"@context": "https://schema.org", "@type": "House",
 "address": {"streetAddress": "7 Birch Ln", "addressLocality": "Columbus", "addressRegion": "OH", "postalCode": "43201"},
 "offers": {"price": "215000"}}
</script></head><body>7 Birch Ln</body></html>`

func newTestAdapter(t *testing.T, template string) (*Adapter, *httptest.Server) {
	mux := http.NewServeMux()
	mux.HandleFunc("/homes/43201", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(listingPage))
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>Nothing for sale</body></html>"))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	fetcher, err := NewCollyFetcher(5 * time.Second)
	require.NoError(t, err)
	extractor, err := extraction.NewExtractor(nil, 0, logger)
	require.NoError(t, err)
	gov := ratelimit.NewGovernor(nil, ratelimit.Policy{MaxAttempts: 1}, logger)

	if template != "" {
		template = server.URL + template
	}
	return NewAdapter(fetcher, extractor, gov, template, logger), server
}

func collect(seq func(func(models.RawRecord, error) bool)) ([]models.RawRecord, []error) {
	var records []models.RawRecord
	var failures []error
	seq(func(rec models.RawRecord, err error) bool {
		if err != nil {
			failures = append(failures, err)
		} else {
			records = append(records, rec)
		}
		return true
	})
	return records, failures
}

func TestRecordsExtractsFromPages(t *testing.T) {
	a, server := newTestAdapter(t, "/homes/{zip}")

	records, failures := collect(a.Records(context.Background(), []string{
		"43201",
		server.URL + "/empty",
		server.URL + "/gone",
	}))

	require.Len(t, records, 1)
	assert.Equal(t, "7 Birch Ln", records[0].Address)
	assert.Equal(t, "215000", records[0].Price)
	assert.Equal(t, server.URL+"/homes/43201", records[0].ListingURL)
	assert.Empty(t, records[0].Missing())

	require.Len(t, failures, 1)
	var selErr *errs.SelectorError
	require.ErrorAs(t, failures[0], &selErr)
	var statusErr *errs.StatusError
	require.ErrorAs(t, failures[0], &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestRecordsZipWithoutTemplate(t *testing.T) {
	a, _ := newTestAdapter(t, "")

	records, failures := collect(a.Records(context.Background(), []string{"43201"}))
	assert.Empty(t, records)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], errNoSearchTemplate)
}

func TestRecordsServerErrorFailsOnlyThatPage(t *testing.T) {
	a, server := newTestAdapter(t, "/homes/{zip}")

	records, failures := collect(a.Records(context.Background(), []string{server.URL + "/down", "43201"}))
	require.Len(t, records, 1)
	assert.Equal(t, "7 Birch Ln", records[0].Address)
	require.Len(t, failures, 1)
	var selErr *errs.SelectorError
	require.ErrorAs(t, failures[0], &selErr)
	var statusErr *errs.StatusError
	require.ErrorAs(t, failures[0], &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}
