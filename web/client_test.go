package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetchRecorder struct {
	mu       sync.Mutex
	urls     []string
	original []bool
}

func (fr *fetchRecorder) Fetch(ctx context.Context, req *OutboundRequest, next FetchFunc) *Future {
	fr.mu.Lock()
	fr.urls = append(fr.urls, req.URL)
	fr.original = append(fr.original, req.OriginalRequest != nil)
	fr.mu.Unlock()

	req.Header.Set("X-Intercepted", "yes")
	return next(ctx, req)
}

func newTestServer() *httptest.Server {

	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("X-Intercepted")))
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusFound)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	mux.HandleFunc("/fail", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	return httptest.NewServer(mux)
}

func TestClientFetch(t *testing.T) {

	server := newTestServer()
	defer server.Close()

	c := NewAsyncClient(ClientOptions{Timeout: 5}, nil)
	fr := &fetchRecorder{}
	c.Use(fr)

	r, err := c.Fetch(context.Background(), c.NewOutboundRequest("GET", server.URL+"/ok")).Wait(context.Background())
	require.NoError(t, err)

	resp := r.(*Response)
	assert.Equal(t, 200, resp.Code)
	assert.Equal(t, "OK", resp.Reason)
	assert.Equal(t, "yes", string(resp.Body))
	assert.Equal(t, []string{server.URL + "/ok"}, fr.urls)
}

func TestClientRedirect(t *testing.T) {

	server := newTestServer()
	defer server.Close()

	c := NewAsyncClient(ClientOptions{Timeout: 5}, nil)
	fr := &fetchRecorder{}
	c.Use(fr)

	r, err := c.Fetch(context.Background(), c.NewOutboundRequest("GET", server.URL+"/redirect")).Wait(context.Background())
	require.NoError(t, err)

	resp := r.(*Response)
	assert.Equal(t, 200, resp.Code)
	assert.Equal(t, server.URL+"/ok", resp.EffectiveURL)
	assert.Equal(t, []string{server.URL + "/redirect", server.URL + "/ok"}, fr.urls)
	assert.Equal(t, []bool{false, true}, fr.original)
}

func TestClientRedirectLimit(t *testing.T) {

	server := newTestServer()
	defer server.Close()

	c := NewAsyncClient(ClientOptions{Timeout: 5, MaxRedirects: 2}, nil)

	_, err := c.Fetch(context.Background(), c.NewOutboundRequest("GET", server.URL+"/loop")).Wait(context.Background())

	var ce *HTTPClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusFound, ce.StatusCode())
}

func TestClientErrorStatus(t *testing.T) {

	server := newTestServer()
	defer server.Close()

	c := NewAsyncClient(ClientOptions{Timeout: 5}, nil)

	_, err := c.Fetch(context.Background(), c.NewOutboundRequest("GET", server.URL+"/fail")).Wait(context.Background())

	var ce *HTTPClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusServiceUnavailable, ce.StatusCode())
	assert.Equal(t, "HTTP 503: Service Unavailable", ce.Error())

	c.Remove(nil)
	_, err = c.Fetch(context.Background(), nil).Wait(context.Background())
	assert.Error(t, err)
}

func TestClientCancel(t *testing.T) {

	server := newTestServer()
	defer server.Close()

	c := NewAsyncClient(ClientOptions{Timeout: 10}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	f := c.Fetch(ctx, c.NewOutboundRequest("GET", server.URL+"/slow"))

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-f.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Invalid fetch, not settled on cancel")
	}
	_, err := f.Result()
	assert.True(t, errors.Is(err, context.Canceled))
}
