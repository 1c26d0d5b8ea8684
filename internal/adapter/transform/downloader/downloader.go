// Package downloader implements the download reemitter (spec §4.5): given
// a URLRef, it fetches the URL with every configured user-agent, consolidates
// identical-digest responses into one DownloadedBlob, and emits a LogEntry
// per unique download. A per-URL recent-downloads holdoff and a per-domain
// draw limit throttle repeat fetches, mirroring the source implementation.
// The suppression state backing both defaults to an in-process map, but can
// be pointed at Redis instead so several OS-process-bound downloader
// workers (spec §5's process concurrency binding) share one suppression
// set rather than each re-downloading the same URL.
package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/redis/go-redis/v9"

	"github.com/kestrelio/recursid/internal/kwargs"
	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/registry"
)

const (
	defaultGetTimeoutSeconds = 5
	defaultDomainOverdraw    = 100
	redownloadHoldoff        = 6 * time.Hour
	// domainDrawHoldoff documents the source's intended holdoff window; the
	// source tracks lastSeen for it but never actually compares against it,
	// so an overdrawn domain never un-overdraws. Preserved as-is.
	domainDrawHoldoff = time.Hour
)

// domainDraw tracks how many times a domain has been drawn from and when it
// was last seen, per the source's (last_time, count) holdoff pair.
type domainDraw struct {
	lastSeen time.Time
	count    int
}

// recentDownload is one entry in the time-bounded recent-downloads queue.
type recentDownload struct {
	at  time.Time
	url string
}

// suppressionStore holds the recent-downloads holdoff set and the
// per-domain draw counters. memoryStore is the default, instance-local
// implementation; redisStore lets several downloader processes share one
// suppression set.
type suppressionStore interface {
	isInRecentDownloads(url string) bool
	addToRecentDownloads(url string)
	isDomainOverdrawn(domain string, overdraw int) bool
	addToDomainDraw(domain string)
}

// Transformer fetches URLRef targets. With the default memoryStore, its
// suppression state is unsynchronized instance state: a Transformer is
// driven by exactly one module worker goroutine, so no lock is needed.
type Transformer struct {
	maxDownload     int
	userAgents      []string
	domainBlacklist []string
	domainOverdraw  int
	getTimeout      time.Duration

	client *http.Client
	logger *slog.Logger

	store suppressionStore
}

// New constructs a download_url transformer. Configuration:
// max_download (required) - byte cap read from each response.
// user_agents (required) - user-agent strings fetched for every URL.
// domain_blacklist (optional) - domain suffixes never fetched.
// domain_overdraw (optional, default 100) - max draws from one domain per holdoff window.
// get_timeout (optional, default 5) - per-request timeout in seconds.
// redis_addr (optional) - if set, suppression state is shared via Redis at this address
// instead of kept in-process, for deployments running multiple downloader workers.
func New(kw map[string]any) (module.Transformer, error) {
	maxDownload, err := kwargs.Int(kw, "max_download", 0)
	if err != nil {
		return nil, fmt.Errorf("op=downloader.New: %w", err)
	}
	if maxDownload <= 0 {
		return nil, fmt.Errorf("op=downloader.New: max_download must be a positive number of bytes")
	}
	userAgents, err := kwargs.StringSlice(kw, "user_agents", nil)
	if err != nil {
		return nil, fmt.Errorf("op=downloader.New: %w", err)
	}
	if len(userAgents) == 0 {
		return nil, fmt.Errorf("op=downloader.New: user_agents must name at least one user-agent")
	}
	domainBlacklist, err := kwargs.StringSlice(kw, "domain_blacklist", nil)
	if err != nil {
		return nil, fmt.Errorf("op=downloader.New: %w", err)
	}
	domainOverdraw, err := kwargs.Int(kw, "domain_overdraw", defaultDomainOverdraw)
	if err != nil {
		return nil, fmt.Errorf("op=downloader.New: %w", err)
	}
	getTimeoutSeconds, err := kwargs.Int(kw, "get_timeout", defaultGetTimeoutSeconds)
	if err != nil {
		return nil, fmt.Errorf("op=downloader.New: %w", err)
	}
	redisAddr, err := kwargs.String(kw, "redis_addr", "")
	if err != nil {
		return nil, fmt.Errorf("op=downloader.New: %w", err)
	}

	var store suppressionStore
	if redisAddr != "" {
		store = newRedisStore(redisAddr)
	} else {
		store = newMemoryStore()
	}

	return &Transformer{
		maxDownload:     maxDownload,
		userAgents:      userAgents,
		domainBlacklist: domainBlacklist,
		domainOverdraw:  domainOverdraw,
		getTimeout:      time.Duration(getTimeoutSeconds) * time.Second,
		client:          &http.Client{},
		logger:          slog.Default(),
		store:           store,
	}, nil
}

func init() {
	if err := registry.RegisterTransformer("download_url", func(kw map[string]any) (module.Transformer, error) {
		return New(kw)
	}); err != nil {
		panic(err)
	}
}

// Accepts reports whether o is a URLRef.
func (t *Transformer) Accepts(o object.Object) bool {
	return o.Kind() == object.KindURLRef
}

// Handle fetches the referenced URL with every configured user-agent and
// emits one DownloadedBlob plus one LogEntry per unique content digest.
func (t *Transformer) Handle(ctx context.Context, in object.Object) []object.Object {
	ref, ok := in.(*object.URLRef)
	if !ok {
		return nil
	}

	if t.store.isInRecentDownloads(ref.URL) {
		return nil
	}

	parsed, err := url.Parse(ref.URL)
	if err != nil {
		t.logger.Error("urlparse failed", "url", ref.URL, "error", err)
		return nil
	}
	domain := parsed.Host

	for _, bl := range t.domainBlacklist {
		if strings.HasSuffix(domain, bl) {
			t.logger.Info("skipping download, domain is blacklisted", "url", ref.URL, "domain", domain)
			return nil
		}
	}

	if t.store.isDomainOverdrawn(domain, t.domainOverdraw) {
		t.logger.Info("skipping download, domain is temporarily overdrawn", "url", ref.URL, "domain", domain)
		return nil
	}

	var downloads []fetchResult
	for _, ua := range t.userAgents {
		dl, err := t.fetch(ctx, ref.URL, ua)
		if err != nil {
			t.logger.Debug("download attempt failed", "url", ref.URL, "user_agent", ua, "error", err)
			continue
		}
		downloads = append(downloads, dl)
	}

	out := consolidate(ref.URL, downloads)

	t.store.addToRecentDownloads(ref.URL)
	t.store.addToDomainDraw(domain)

	return out
}

type fetchResult struct {
	userAgent string
	data      []byte
	sha256    string
}

func (t *Transformer) fetch(ctx context.Context, rawURL, userAgent string) (fetchResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, t.getTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fetchResult{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return fetchResult{}, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 600 {
		return fetchResult{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxDownload)))
	if err != nil {
		return fetchResult{}, err
	}

	sum := sha256.Sum256(data)
	return fetchResult{userAgent: userAgent, data: data, sha256: hex.EncodeToString(sum[:])}, nil
}

// consolidate groups fetchResults by digest, joining the user-agents that
// produced each digest and emitting one DownloadedBlob and one LogEntry per
// unique digest, in deterministic digest order.
func consolidate(rawURL string, downloads []fetchResult) []object.Object {
	if len(downloads) == 0 {
		return nil
	}

	byDigest := map[string][]fetchResult{}
	for _, dl := range downloads {
		byDigest[dl.sha256] = append(byDigest[dl.sha256], dl)
	}

	digests := make([]string, 0, len(byDigest))
	for d := range byDigest {
		digests = append(digests, d)
	}
	sort.Strings(digests)

	out := make([]object.Object, 0, len(digests)*2)
	for _, digest := range digests {
		group := byDigest[digest]
		userAgents := make([]string, len(group))
		for i, dl := range group {
			userAgents[i] = dl.userAgent
		}

		blob := &object.DownloadedBlob{
			URL:        rawURL,
			UserAgents: userAgents,
			SHA256:     digest,
			Data:       group[0].data,
			Filetype:   mimetype.Detect(group[0].data).String(),
		}
		out = append(out, blob)
		out = append(out, &object.LogEntry{
			Source: "download_url",
			Line: fmt.Sprintf("downloaded url %s hash %s user-agents %s",
				blob.URL, digest, strings.Join(userAgents, ", ")),
		})
	}
	return out
}

// memoryStore is the default suppressionStore: a Transformer is driven by
// exactly one module worker goroutine, so these maps/slices need no lock.
type memoryStore struct {
	recentDownloads []recentDownload
	domainDraws     map[string]domainDraw
}

func newMemoryStore() *memoryStore {
	return &memoryStore{domainDraws: map[string]domainDraw{}}
}

func (s *memoryStore) isInRecentDownloads(url string) bool {
	for _, rd := range s.recentDownloads {
		if rd.url == url {
			return true
		}
	}
	return false
}

func (s *memoryStore) addToRecentDownloads(url string) {
	s.recentDownloads = append(s.recentDownloads, recentDownload{at: time.Now(), url: url})
	cutoff := time.Now().Add(-redownloadHoldoff)
	i := 0
	for i < len(s.recentDownloads) && s.recentDownloads[i].at.Before(cutoff) {
		i++
	}
	s.recentDownloads = s.recentDownloads[i:]
}

// isDomainOverdrawn reports whether domain has been drawn from overdraw or
// more times, refreshing its lastSeen when it has. The count is never reset
// or aged out, so a domain that reaches overdraw stays overdrawn for the
// lifetime of the store.
func (s *memoryStore) isDomainOverdrawn(domain string, overdraw int) bool {
	d, ok := s.domainDraws[domain]
	if !ok {
		return false
	}
	if d.count < overdraw {
		return false
	}
	s.domainDraws[domain] = domainDraw{lastSeen: time.Now(), count: d.count}
	return true
}

func (s *memoryStore) addToDomainDraw(domain string) {
	d := s.domainDraws[domain]
	s.domainDraws[domain] = domainDraw{lastSeen: time.Now(), count: d.count + 1}
}

// redisStore mirrors memoryStore's semantics over a shared Redis instance,
// keyed under a "recursid:download:" prefix, so several downloader
// processes (spec §5's process concurrency binding) observe the same
// recent-downloads holdoff and domain draw counts. The recent-downloads
// entry is a plain key with a TTL of redownloadHoldoff; the draw count is
// an INCR'd key that, like the in-process map, is never reset on its own
// — preserving the source's never-un-overdraws quirk.
type redisStore struct {
	client *redis.Client
}

func newRedisStore(addr string) *redisStore {
	return &redisStore{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (s *redisStore) isInRecentDownloads(url string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	n, err := s.client.Exists(ctx, recentDownloadKey(url)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

func (s *redisStore) addToRecentDownloads(url string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	s.client.Set(ctx, recentDownloadKey(url), "1", redownloadHoldoff)
}

func (s *redisStore) isDomainOverdrawn(domain string, overdraw int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	count, err := s.client.Get(ctx, domainDrawKey(domain)).Int()
	if err != nil {
		return false
	}
	return count >= overdraw
}

func (s *redisStore) addToDomainDraw(domain string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	s.client.Incr(ctx, domainDrawKey(domain))
}

const redisOpTimeout = 2 * time.Second

func recentDownloadKey(url string) string { return "recursid:download:recent:" + url }
func domainDrawKey(domain string) string  { return "recursid:download:draw:" + domain }
