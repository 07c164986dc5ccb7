package lowerthirds

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvent(t *testing.T, r *bufio.Reader) State {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
			var st State
			require.NoError(t, json.Unmarshal([]byte(data), &st))
			return st
		}
	}
}

func TestStreamHandler(t *testing.T) {
	hub := NewHub(nil)
	hub.Publish(UpNext("Bob", "Rain"))
	srv := httptest.NewServer(StreamHandler(hub))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	first := readEvent(t, r)
	assert.Equal(t, KindNext, first.Type)
	assert.Equal(t, "Bob", first.Artist)

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	hub.Publish(Live("Bob", "Rain", "Bob", 2))
	second := readEvent(t, r)
	assert.Equal(t, KindLive, second.Type)
	assert.Equal(t, 2, second.Episode)
}

func TestStateHandler(t *testing.T) {
	hub := NewHub(nil)
	rr := httptest.NewRecorder()
	StateHandler(hub)(rr, httptest.NewRequest(http.MethodGet, "/lower-thirds", nil))
	var st State
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, KindNone, st.Type)
}
