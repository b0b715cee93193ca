package ingestor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agnikulu/EditWarCatcher/internal/config"
)

// sseServer writes each payload as one SSE event, then holds the connection
// open until the client goes away.
func sseServer(t *testing.T, payloads ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		flusher := w.(http.Flusher)
		for i, p := range payloads {
			fmt.Fprintf(w, "id: %d\nevent: message\ndata: %s\n\n", i, p)
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func streamConfig(url string) *config.Feed {
	return &config.Feed{
		StreamURL:    url,
		Wiki:         "enwiki",
		Limit:        10,
		StreamWindow: 500 * time.Millisecond,
	}
}

func streamEdit(id int, wiki, user string, bot bool, ns int, typ string) string {
	return fmt.Sprintf(`{"id":%d,"type":%q,"namespace":%d,"title":"Page","user":%q,"bot":%t,"wiki":%q,`+
		`"timestamp":1709294400,"revision":{"old":%d,"new":%d},"comment":"Reverted edits by X"}`,
		id, typ, ns, user, bot, wiki, id-1, id)
}

func TestStreamClient_FiltersEvents(t *testing.T) {
	srv := sseServer(t,
		streamEdit(11, "enwiki", "Alice", false, 0, "edit"),
		streamEdit(12, "dewiki", "Bob", false, 0, "edit"),
		streamEdit(13, "enwiki", "HelperBot", true, 0, "edit"),
		streamEdit(14, "enwiki", "Carol", false, 1, "edit"),
		streamEdit(15, "enwiki", "Dave", false, 0, "log"),
		`not json`,
		streamEdit(16, "enwiki", "Erin", false, 0, "edit"),
	)

	client := NewStreamClient(streamConfig(srv.URL), zerolog.Nop())
	assert.Equal(t, "stream", client.Source())

	edits, err := client.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, edits, 2)

	assert.Equal(t, "Alice", edits[0].User)
	assert.Equal(t, int64(11), edits[0].RevID)
	assert.Equal(t, int64(10), edits[0].OldRevID)
	assert.Equal(t, time.Unix(1709294400, 0).UTC(), edits[0].Timestamp)
	assert.Empty(t, edits[0].Tags)
	assert.Equal(t, "Erin", edits[1].User)
}

func TestStreamClient_StopsAtLimit(t *testing.T) {
	srv := sseServer(t,
		streamEdit(21, "enwiki", "A", false, 0, "edit"),
		streamEdit(22, "enwiki", "B", false, 0, "edit"),
		streamEdit(23, "enwiki", "C", false, 0, "edit"),
	)

	cfg := streamConfig(srv.URL)
	cfg.Limit = 2
	cfg.StreamWindow = 5 * time.Second

	start := time.Now()
	edits, err := NewStreamClient(cfg, zerolog.Nop()).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, edits, 2)
	assert.Less(t, time.Since(start), 4*time.Second, "limit should end the fetch before the window")
}

func TestStreamClient_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	_, err := NewStreamClient(streamConfig(srv.URL), zerolog.Nop()).Fetch(context.Background())
	assert.Error(t, err)
}
