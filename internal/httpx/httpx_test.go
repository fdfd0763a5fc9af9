package httpx_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pricetracker/internal/httpx"
	"pricetracker/internal/provider"
)

func TestDo_SetsDefaultHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pricetracker/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "secret", r.Header.Get("X-Key"))
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, "short and stout")
	}))
	defer srv.Close()

	c := httpx.New(0)
	c.Headers = map[string]string{"X-Key": "secret"}
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	err = httpx.CheckStatus(resp)
	var se *httpx.StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusTeapot, se.Code)
	require.Equal(t, "short and stout", se.Body)
	require.ErrorIs(t, httpx.Classify("p", err), provider.ErrNetwork)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	require.NoError(t, httpx.Classify("p", nil))
	require.ErrorIs(t, httpx.Classify("p", &httpx.StatusError{Code: http.StatusTooManyRequests}), provider.ErrRateLimited)
	require.ErrorIs(t, httpx.Classify("p", fmt.Errorf("get: %w", context.DeadlineExceeded)), provider.ErrTimeout)
	require.ErrorIs(t, httpx.Classify("p", errors.New("connection reset")), provider.ErrNetwork)

	already := provider.InvalidResponse("p", "bad")
	require.Equal(t, already, httpx.Classify("p", already))
}
