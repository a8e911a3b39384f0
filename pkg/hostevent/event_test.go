package hostevent

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampFallback(t *testing.T) {
	ev := &Event{}
	got := ev.Timestamp()
	assert.WithinDuration(t, time.Now(), got, time.Second)

	ev.TimestampMs = 1_700_000_000_000
	assert.Equal(t, time.UnixMilli(1_700_000_000_000), ev.Timestamp())
}

func TestClientPost(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/events", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	ev := &Event{Source: "browser", Type: TypePageView, URL: "https://github.com"}
	require.NoError(t, NewClient(port).Post(context.Background(), ev))

	assert.Equal(t, TypePageView, received.Type)
	assert.Equal(t, "https://github.com", received.URL)
	assert.NotZero(t, received.TimestampMs, "client stamps unstamped events")
}

func TestClientPostRejectsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	err := NewClient(port).Post(context.Background(), &Event{Source: "browser", Type: TypeFocus})
	require.Error(t, err)
}
