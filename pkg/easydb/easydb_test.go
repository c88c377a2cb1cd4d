package easydb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/lichen/pkg/httpclient"
	"github.com/Ramsey-B/lichen/pkg/rawrecord"
	"github.com/Ramsey-B/lichen/pkg/redis"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string]string{}}
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	return nil
}

func (m *memoryCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type fakeRemote struct {
	t            *testing.T
	sessions     atomic.Int32
	rejectTokens map[string]bool
	searches     []SearchRequest
	objects      []map[string]any
	mu           sync.Mutex
}

func (f *fakeRemote) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		n := f.sessions.Add(1)
		writeJSON(w, map[string]any{"token": "tok-" + string(rune('0'+n))})
	})
	mux.HandleFunc("/api/v1/session/authenticate", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, http.MethodPost, r.Method)
		assert.Equal(f.t, "easydb", r.URL.Query().Get("method"))
		assert.Equal(f.t, "importer", r.URL.Query().Get("login"))
		writeJSON(w, map[string]any{"token": r.URL.Query().Get("token"), "authenticated": "easydb"})
	})
	mux.HandleFunc("/api/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(f.t, r.ParseForm())
		assert.Equal(f.t, "password", r.Form.Get("grant_type"))
		assert.Equal(f.t, "importer", r.Form.Get("username"))
		writeJSON(w, map[string]any{"access_token": "bearer-1", "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/api/v1/search", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" && r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.rejectTokens[token] {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req SearchRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.searches = append(f.searches, req)
		f.mu.Unlock()

		matched := f.match(req)
		end := min(req.Offset+req.Limit, len(matched))
		start := min(req.Offset, end)
		writeJSON(w, map[string]any{
			"count":   len(matched),
			"offset":  req.Offset,
			"limit":   req.Limit,
			"objects": matched[start:end],
		})
	})
	mux.HandleFunc("/api/v1/tags", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{map[string]any{
			"taggroup": map[string]any{"displayname": map[string]any{"en-US": "Publishing"}},
			"_tags": []any{
				map[string]any{"tag": map[string]any{"_id": 7, "displayname": map[string]any{"en-US": "GBIF"}}},
			},
		}})
	})
	mux.HandleFunc("/api/v1/eas", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "[11,12]", r.URL.Query().Get("ids"))
		writeJSON(w, map[string]any{
			"11": map[string]any{"versions": map[string]any{
				"small":    map[string]any{"url": "https://eas/11/small.jpg", "status": "done"},
				"original": map[string]any{"url": "https://eas/11/orig.jpg", "download_url": "https://eas/11/orig.jpg?download", "status": "done"},
			}},
			"12": map[string]any{"versions": map[string]any{
				"original": map[string]any{"url": "https://eas/12/orig.jpg", "status": "failed"},
				"preview":  map[string]any{"url": "https://eas/12/preview.jpg", "status": "done"},
			}},
		})
	})
	return mux
}

func (f *fakeRemote) match(req SearchRequest) []map[string]any {
	if len(req.Search) == 0 {
		return f.objects
	}
	s := req.Search[0]
	if s.Type != "in" || len(s.Fields) != 1 || s.Fields[0] != rawrecord.FieldGlobalObjectID {
		return f.objects
	}
	var out []map[string]any
	for _, obj := range f.objects {
		for _, v := range s.In {
			if obj[rawrecord.FieldGlobalObjectID] == v {
				out = append(out, obj)
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClients(t *testing.T, remote *fakeRemote, mode AuthMode, cache SessionCache) (*QueryClient, *SessionClient) {
	t.Helper()
	server := httptest.NewServer(remote.handler())
	t.Cleanup(server.Close)

	cfg := httpclient.DefaultConfig()
	cfg.RequestsPerSecond = 0
	hc := httpclient.NewClient(cfg, testLogger())

	sessions := NewSessionClient(Credentials{
		BaseURL:  server.URL,
		Mode:     mode,
		Login:    "importer",
		Password: "secret",
		ClientID: "lichen",
	}, hc, cache, testLogger())
	return NewQueryClient(sessions, hc, []string{"de-DE", "en-US"}, testLogger()), sessions
}

func objects(ids ...string) []map[string]any {
	out := make([]map[string]any, 0, len(ids))
	for i, id := range ids {
		out = append(out, map[string]any{
			rawrecord.FieldGlobalObjectID: id,
			rawrecord.FieldSystemObjectID: i + 1,
			rawrecord.FieldObjectType:     "fungarium",
		})
	}
	return out
}

func TestQueryClient_ByGlobalObjectID(t *testing.T) {
	remote := &fakeRemote{t: t, objects: objects("1@a", "2@a")}
	queries, _ := newTestClients(t, remote, AuthModeSession, nil)

	rec, err := queries.ByGlobalObjectID(context.Background(), "2@a")
	require.NoError(t, err)
	gid, _ := rec.GlobalObjectID()
	assert.Equal(t, "2@a", gid)

	require.Len(t, remote.searches, 1)
	req := remote.searches[0]
	assert.Equal(t, FormatLong, req.Format)
	assert.Equal(t, 1, req.Limit)
	assert.Equal(t, []SortField{{Field: rawrecord.FieldSystemObjectID, Order: "ASC"}}, req.Sort)
}

func TestQueryClient_NotFoundIsRemoteFetchFailure(t *testing.T) {
	remote := &fakeRemote{t: t}
	queries, _ := newTestClients(t, remote, AuthModeSession, nil)

	_, err := queries.ByGlobalObjectID(context.Background(), "404@a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteFetchFailed))
	assert.True(t, errors.Is(err, ErrObjectNotFound))

	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.False(t, remoteErr.Retryable())
}

func TestQueryClient_ByTagPaginates(t *testing.T) {
	remote := &fakeRemote{t: t, objects: objects("1@a", "2@a", "3@a")}
	queries, _ := newTestClients(t, remote, AuthModeSession, nil)

	page, err := queries.ByTag(context.Background(), 7, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Count)
	assert.Len(t, page.Objects, 2)
	assert.True(t, page.Full())

	page, err = queries.ByTag(context.Background(), 7, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Objects, 1)
	assert.False(t, page.Full())

	assert.Equal(t, []string{FieldTagID}, remote.searches[0].Search[0].Fields)
}

func TestQueryClient_Exists(t *testing.T) {
	remote := &fakeRemote{t: t, objects: objects("1@a", "3@a")}
	queries, _ := newTestClients(t, remote, AuthModeSession, nil)

	found, err := queries.Exists(context.Background(), []string{"1@a", "2@a", "3@a"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"1@a": true, "2@a": false, "3@a": true}, found)
}

func TestQueryClient_ReauthenticatesOnUnauthorized(t *testing.T) {
	remote := &fakeRemote{t: t, objects: objects("1@a"), rejectTokens: map[string]bool{"tok-1": true}}
	queries, _ := newTestClients(t, remote, AuthModeSession, nil)

	_, err := queries.ByGlobalObjectID(context.Background(), "1@a")
	require.NoError(t, err)
	assert.Equal(t, int32(2), remote.sessions.Load())
}

func TestSessionClient_UsesCache(t *testing.T) {
	cache := newMemoryCache()
	remote := &fakeRemote{t: t}

	_, first := newTestClients(t, remote, AuthModeSession, cache)
	s1, err := first.Acquire(context.Background())
	require.NoError(t, err)

	_, second := newTestClients(t, remote, AuthModeSession, cache)
	second.creds.BaseURL = first.creds.BaseURL
	s2, err := second.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, s1.Token, s2.Token)
	assert.Equal(t, int32(1), remote.sessions.Load())
}

func TestSessionClient_OAuth2(t *testing.T) {
	remote := &fakeRemote{t: t, objects: objects("1@a")}
	queries, sessions := newTestClients(t, remote, AuthModeOAuth2, nil)

	session, err := sessions.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bearer-1", session.Token)
	assert.Equal(t, map[string]string{"Authorization": "Bearer bearer-1"}, session.Headers())
	assert.Contains(t, session.SignedURL("https://eas/1.jpg"), "access_token=bearer-1")
	assert.NotContains(t, session.URL("https://remote", "/api/v1/search", nil), "token=")

	_, err = queries.ByGlobalObjectID(context.Background(), "1@a")
	require.NoError(t, err)
}

func TestSession_URL(t *testing.T) {
	s := Session{Token: "abc", Mode: AuthModeSession}
	assert.Equal(t, "https://remote/api/v1/tags?token=abc", s.URL("https://remote/", "/api/v1/tags", nil))
	assert.True(t, Session{}.Expired(time.Now()))
	assert.False(t, s.Expired(time.Now()))
	assert.True(t, Session{Token: "x", ExpiresAt: time.Now().Add(30 * time.Second)}.Expired(time.Now()))
}

func TestQueryClient_Tags(t *testing.T) {
	remote := &fakeRemote{t: t}
	queries, _ := newTestClients(t, remote, AuthModeSession, nil)

	tags, err := queries.Tags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Tag{{ID: 7, Group: "Publishing", Name: "GBIF"}}, tags)
}

func TestAssetResolver_Resolve(t *testing.T) {
	remote := &fakeRemote{t: t}
	queries, _ := newTestClients(t, remote, AuthModeSession, nil)

	urls, err := NewAssetResolver(queries, testLogger()).Resolve(context.Background(), []int64{11, 12})
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{
		11: "https://eas/11/orig.jpg?download",
		12: "https://eas/12/preview.jpg",
	}, urls)
}

func TestVersionURL_NoVersions(t *testing.T) {
	_, ok := VersionURL(rawrecord.New(map[string]any{"_id": 1.0}))
	assert.False(t, ok)
}
