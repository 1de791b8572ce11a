package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRESTClient(t *testing.T, handler http.Handler) (*restClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := newRESTClient(KindJira, srv.URL, nil)
	c.baseDelay = 1
	c.maxDelay = 1
	return c, srv
}

func TestGetJSONRetriesRateLimit(t *testing.T) {
	var calls int32
	c, _ := newTestRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))

	var out struct {
		OK bool `json:"ok"`
	}
	err := c.getJSON(context.Background(), "/thing", nil, &out)
	require.NoError(t, err)
	require.True(t, out.OK)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestGetJSONGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	c, _ := newTestRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := c.getJSON(context.Background(), "/thing", nil, nil)
	require.Error(t, err)
	require.Equal(t, CodeNetwork, CodeOf(err))
	// Initial attempt plus maxRetries.
	require.EqualValues(t, c.maxRetries+1, atomic.LoadInt32(&calls))
}

func TestGetJSONClassifiesStatuses(t *testing.T) {
	tests := []struct {
		status int
		code   ErrorCode
	}{
		{http.StatusUnauthorized, CodeAuth},
		{http.StatusForbidden, CodeAuth},
		{http.StatusBadRequest, CodeBadQuery},
		{http.StatusUnprocessableEntity, CodeBadQuery},
		{http.StatusNotFound, CodeUnknown},
	}
	for _, tt := range tests {
		status := tt.status
		c, _ := newTestRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		err := c.getJSON(context.Background(), "/thing", nil, nil)
		require.Error(t, err)
		require.Equal(t, tt.code, CodeOf(err), "status %d", tt.status)
	}
}

func TestGetJSONCanceledContext(t *testing.T) {
	c, _ := newTestRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.getJSON(ctx, "/thing", nil, nil)
	require.Error(t, err)
}

func TestIsNotFound(t *testing.T) {
	c, _ := newTestRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	err := c.getJSON(context.Background(), "/missing", nil, nil)
	require.Error(t, err)
	require.True(t, isNotFound(err))
	require.False(t, isNotFound(context.Canceled))
}
