package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	return NewClient(WithRateLimit(1000, 1000))
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(`{"code":"0","data":[[1,2,3]]}`))
	}))
	defer server.Close()

	var out struct {
		Code string  `json:"code"`
		Data [][]int `json:"data"`
	}
	err := testClient().GetJSON(context.Background(), server.URL, &out)
	require.NoError(t, err)
	assert.Equal(t, "0", out.Code)
	assert.Equal(t, [][]int{{1, 2, 3}}, out.Data)
}

func TestGetJSONEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var out map[string]any
	err := testClient().GetJSON(context.Background(), server.URL, &out)
	assert.ErrorIs(t, err, ErrEmptyBody)
}

func TestGetJSONDecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}))
	defer server.Close()

	var out map[string]any
	err := testClient().GetJSON(context.Background(), server.URL, &out)

	var derr *DecodeError
	assert.ErrorAs(t, err, &derr)
}

func TestGetJSONClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"msg":"Invalid symbol"}`))
	}))
	defer server.Close()

	var out map[string]any
	err := testClient().GetJSON(context.Background(), server.URL, &out)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusNotFound, serr.Code)
	assert.Contains(t, serr.Body, "Invalid symbol")
	assert.False(t, serr.Retryable())
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetJSONRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	err := testClient().GetJSON(context.Background(), server.URL, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetJSONGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var out map[string]any
	err := testClient().GetJSON(context.Background(), server.URL, &out)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusInternalServerError, serr.Code)
	assert.LessOrEqual(t, calls.Load(), int32(maxRetries+1))
}

func TestGetJSONContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out map[string]any
	err := testClient().GetJSON(ctx, server.URL, &out)
	assert.Error(t, err)
}
