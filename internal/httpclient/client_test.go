package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertyfeed/internal/errs"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		header   map[string]string
		expected error
	}{
		{name: "OK", status: http.StatusOK},
		{name: "Rate limited", status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "7"}, expected: errs.ErrRateLimited},
		{name: "Server error", status: http.StatusBadGateway, expected: errs.ErrTransient},
		{name: "Not found", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := New(server.URL, "secret", time.Second)
			err := Check(client.R().Get("/ping"))

			assert.Equal(t, "Bearer secret", gotAuth)
			switch {
			case tt.status == http.StatusOK:
				assert.NoError(t, err)
			case tt.expected != nil:
				assert.ErrorIs(t, err, tt.expected)
			default:
				var statusErr *errs.StatusError
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, tt.status, statusErr.StatusCode)
				assert.NotErrorIs(t, err, errs.ErrTransient)
			}

			var limited *errs.RateLimitedError
			if tt.status == http.StatusTooManyRequests {
				require.ErrorAs(t, err, &limited)
				assert.Equal(t, 7*time.Second, limited.RetryAfter)
			}
		})
	}
}

func TestCheckTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := Check(New(url, "", time.Second).R().Get("/"))
	assert.ErrorIs(t, err, errs.ErrTransient)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, 30*time.Second, ParseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-4", now))
	assert.Equal(t, 90*time.Second, ParseRetryAfter("Wed, 01 May 2024 12:01:30 GMT", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
}
