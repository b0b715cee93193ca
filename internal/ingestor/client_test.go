package ingestor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agnikulu/EditWarCatcher/internal/config"
	"github.com/Agnikulu/EditWarCatcher/internal/resilience"
)

func testFeedConfig(apiURL string) *config.Feed {
	return &config.Feed{
		Source:   "api",
		APIURL:   apiURL,
		Contact:  "ops@example.org",
		Limit:    10,
		Timeout:  2 * time.Second,
		PageRate: 0,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*config.Feed)) *RecentChangesClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := testFeedConfig(srv.URL)
	for _, m := range mutate {
		m(cfg)
	}
	return NewRecentChangesClient(cfg, resilience.DefaultTimeoutConfig().Feed, zerolog.Nop())
}

const onePage = `{
  "batchcomplete": true,
  "query": {"recentchanges": [
    {"type":"edit","ns":0,"title":"Page","user":"Alice","revid":101,"old_revid":100,
     "timestamp":"2024-03-01T12:00:00Z","comment":"Undid revision 100 by Bob","tags":["mw-undo"]},
    {"type":"edit","ns":0,"title":"Page","user":"HelperBot","revid":102,"old_revid":101,
     "timestamp":"2024-03-01T12:01:00Z","comment":"fix","tags":[],"bot":true}
  ]}
}`

func TestRecentChangesClient_Fetch(t *testing.T) {
	var gotQuery map[string][]string
	var gotUA string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(onePage))
	})

	edits, err := client.Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, edits, 1, "bot edit must be filtered")
	e := edits[0]
	assert.Equal(t, "Page", e.Title)
	assert.Equal(t, "Alice", e.User)
	assert.Equal(t, int64(101), e.RevID)
	assert.Equal(t, int64(100), e.OldRevID)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), e.Timestamp)
	assert.Equal(t, []string{"mw-undo"}, e.Tags)

	assert.Equal(t, "EditWarCatcherBot/0.2 (contact: ops@example.org)", gotUA)
	assert.Equal(t, []string{"recentchanges"}, gotQuery["list"])
	assert.Equal(t, []string{"2"}, gotQuery["formatversion"])
	assert.Equal(t, []string{DefaultRCProps}, gotQuery["rcprop"])
	assert.Equal(t, []string{"!bot"}, gotQuery["rcshow"])
	assert.Equal(t, []string{"edit|new"}, gotQuery["rctype"])
	assert.Equal(t, []string{"0"}, gotQuery["rcnamespace"])
	assert.Equal(t, []string{"10"}, gotQuery["rclimit"])
}

func TestRecentChangesClient_IncludeBots(t *testing.T) {
	var rcshow string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rcshow = r.URL.Query().Get("rcshow")
		w.Write([]byte(onePage))
	}, func(cfg *config.Feed) {
		cfg.IncludeBots = true
		cfg.Namespace = -1
	})

	edits, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, edits, 2)
	assert.Empty(t, rcshow)
}

func TestRecentChangesClient_FollowsContinuation(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		cont := r.URL.Query().Get("rccontinue")
		calls = append(calls, cont)
		if cont == "" {
			w.Write([]byte(`{"continue":{"rccontinue":"20240301120000|5","continue":"-||"},
			  "query":{"recentchanges":[{"title":"A","user":"U1","revid":1,"timestamp":"2024-03-01T12:00:00Z"}]}}`))
			return
		}
		w.Write([]byte(`{"query":{"recentchanges":[{"title":"B","user":"U2","revid":2,"timestamp":"2024-03-01T12:00:01Z"}]}}`))
	})

	edits, err := client.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, edits, 2)
	assert.Equal(t, "A", edits[0].Title)
	assert.Equal(t, "B", edits[1].Title)
	assert.Equal(t, []string{"", "20240301120000|5"}, calls)
}

func TestRecentChangesClient_StopsAtLimit(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"continue":{"rccontinue":"x"},"query":{"recentchanges":[
		  {"title":"A","user":"U1","revid":1,"timestamp":"2024-03-01T12:00:00Z"},
		  {"title":"A","user":"U2","revid":2,"timestamp":"2024-03-01T12:00:01Z"}]}}`))
	}, func(cfg *config.Feed) { cfg.Limit = 3 })

	edits, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, edits, 3)
	assert.Equal(t, 2, calls)
}

func TestRecentChangesClient_DropsIncompleteRecords(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"query":{"recentchanges":[
		  {"type":"edit","title":"Page","userhidden":true,"revid":50,"timestamp":"2024-03-01T12:00:00Z","tags":["mw-rollback"]},
		  {"type":"edit","title":"","user":"U1","revid":51,"timestamp":"2024-03-01T12:00:01Z"},
		  {"type":"edit","title":"Page","user":"U2","revid":52},
		  {"type":"edit","title":"Page","user":"Alice","revid":53,"timestamp":"2024-03-01T12:00:02Z","tags":["mw-undo"]}]}}`))
	})

	edits, err := client.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, int64(53), edits[0].RevID)
}

func TestRecentChangesClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		errMsg  string
	}{
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			errMsg: "unexpected status code: 503",
		},
		{
			name: "malformed JSON",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"query":`))
			},
			errMsg: "failed to parse recent changes JSON",
		},
		{
			name: "missing query",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"batchcomplete":true}`))
			},
			errMsg: "missing query.recentchanges",
		},
		{
			name: "missing recentchanges",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"query":{}}`))
			},
			errMsg: "missing query.recentchanges",
		},
		{
			name: "api error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"error":{"code":"badvalue","info":"Unrecognized value"}}`))
			},
			errMsg: "api error badvalue",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			edits, err := client.Fetch(context.Background())
			require.Error(t, err)
			assert.Nil(t, edits)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRecentChangesClient_EmptyPage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"query":{"recentchanges":[]}}`))
	})

	edits, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, edits)
}

func TestRecentChangesClient_Timeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, func(cfg *config.Feed) { cfg.Timeout = 50 * time.Millisecond })

	start := time.Now()
	_, err := client.Fetch(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "EditWarCatcherBot/0.2 (contact: unset)", UserAgent(""))
	assert.Equal(t, "EditWarCatcherBot/0.2 (contact: me@x.org)", UserAgent("me@x.org"))
}
