package downloader

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kestrelio/recursid/internal/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransformer(t *testing.T, body string) (*Transformer, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	tf := &Transformer{
		maxDownload: 1 << 20,
		userAgents:  []string{"agent-a", "agent-b"},
		getTimeout:  5 * time.Second,
		client:      srv.Client(),
		logger:      slog.Default(),
		store:       newMemoryStore(),
	}
	return tf, srv
}

func TestNewDefaultsToMemoryStore(t *testing.T) {
	p, err := New(map[string]any{"max_download": float64(1024), "user_agents": []any{"agent-a"}})
	require.NoError(t, err)
	tf := p.(*Transformer)
	assert.IsType(t, &memoryStore{}, tf.store)
}

func TestNewSelectsRedisStoreWhenRedisAddrSet(t *testing.T) {
	p, err := New(map[string]any{
		"max_download": float64(1024),
		"user_agents":  []any{"agent-a"},
		"redis_addr":   "localhost:6379",
	})
	require.NoError(t, err)
	tf := p.(*Transformer)
	assert.IsType(t, &redisStore{}, tf.store)
}

func TestAcceptsOnlyURLRef(t *testing.T) {
	tf := &Transformer{}
	assert.True(t, tf.Accepts(&object.URLRef{}))
	assert.False(t, tf.Accepts(&object.LogEntry{}))
}

func TestHandleConsolidatesIdenticalDownloadsAcrossUserAgents(t *testing.T) {
	tf, srv := newTestTransformer(t, "payload")
	defer srv.Close()

	out := tf.Handle(context.Background(), &object.URLRef{URL: srv.URL})
	require.Len(t, out, 2)

	blob, ok := out[0].(*object.DownloadedBlob)
	require.True(t, ok)
	assert.Equal(t, []string{"agent-a", "agent-b"}, blob.UserAgents)
	assert.Equal(t, "payload", string(blob.Data))
	assert.NotEmpty(t, blob.SHA256)

	entry, ok := out[1].(*object.LogEntry)
	require.True(t, ok)
	assert.Contains(t, entry.Line, blob.SHA256)
}

func TestHandleSkipsRecentlyDownloadedURL(t *testing.T) {
	tf, srv := newTestTransformer(t, "payload")
	defer srv.Close()

	ref := &object.URLRef{URL: srv.URL}
	first := tf.Handle(context.Background(), ref)
	require.NotEmpty(t, first)

	second := tf.Handle(context.Background(), ref)
	assert.Empty(t, second)
}

func TestHandleSkipsBlacklistedDomain(t *testing.T) {
	tf, srv := newTestTransformer(t, "payload")
	defer srv.Close()
	tf.domainBlacklist = []string{srv.Listener.Addr().String()}

	out := tf.Handle(context.Background(), &object.URLRef{URL: srv.URL})
	assert.Empty(t, out)
}

func TestHandleSkipsOverdrawnDomain(t *testing.T) {
	tf, srv := newTestTransformer(t, "payload")
	defer srv.Close()
	tf.domainOverdraw = 1
	tf.store.(*memoryStore).domainDraws[srv.Listener.Addr().String()] = domainDraw{lastSeen: time.Now(), count: 1}

	out := tf.Handle(context.Background(), &object.URLRef{URL: srv.URL + "/other"})
	assert.Empty(t, out)
}

func TestHandleReturnsNothingOnAllUserAgentFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tf := &Transformer{
		maxDownload: 1 << 20,
		userAgents:  []string{"agent-a"},
		getTimeout:  5 * time.Second,
		client:      srv.Client(),
		logger:      slog.Default(),
		store:       newMemoryStore(),
	}
	out := tf.Handle(context.Background(), &object.URLRef{URL: srv.URL})
	assert.Empty(t, out)
}

func TestIsDomainOverdrawnHoldsUntilCountResets(t *testing.T) {
	store := newMemoryStore()
	assert.False(t, store.isDomainOverdrawn("example.com", 2))
	store.addToDomainDraw("example.com")
	store.addToDomainDraw("example.com")
	assert.True(t, store.isDomainOverdrawn("example.com", 2))
}

func TestConsolidateGroupsByDigest(t *testing.T) {
	downloads := []fetchResult{
		{userAgent: "a", data: []byte("x"), sha256: "hash1"},
		{userAgent: "b", data: []byte("x"), sha256: "hash1"},
		{userAgent: "c", data: []byte("y"), sha256: "hash2"},
	}
	out := consolidate("http://example.com", downloads)
	require.Len(t, out, 4)

	blob1 := out[0].(*object.DownloadedBlob)
	assert.Equal(t, "hash1", blob1.SHA256)
	assert.Equal(t, []string{"a", "b"}, blob1.UserAgents)

	blob2 := out[2].(*object.DownloadedBlob)
	assert.Equal(t, "hash2", blob2.SHA256)
	assert.Equal(t, []string{"c"}, blob2.UserAgents)
}
