// Package cache implements a generation-aware resource cache that sits in
// front of outbound HTTP requests. A generation is installed from a static
// manifest, activated (purging every other generation) and then filled at
// runtime from allow-listed cache misses.
package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/patteeraL/movra/services/currency-converter/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle position of a Manager
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInstalling    State = "installing"
	StateInstalled     State = "installed"
	StateActive        State = "active"
	StateSuperseded    State = "superseded"
)

const (
	defaultInstallConcurrency = 4
	// defaultMaxEntryBytes caps a single cached response
	defaultMaxEntryBytes = 5 << 20
)

// Rule allow-lists a URL prefix for runtime caching. Opaque rules store the
// response whatever its status, for hosts whose status cannot be trusted.
type Rule struct {
	Prefix string
	Opaque bool
}

// Recorder receives cache measurements
type Recorder interface {
	RecordCacheLookup(hit bool)
	RecordCacheStoreError()
}

// Config configures a Manager
type Config struct {
	Rules              []Rule
	InstallConcurrency int
	// MaxEntryBytes caps a stored response body. Larger runtime responses
	// pass through uncached; a larger manifest entry fails the install.
	MaxEntryBytes int64
}

// Manager owns the resource cache lifecycle
type Manager struct {
	storage     Storage
	network     http.RoundTripper
	rules       []Rule
	concurrency int
	maxEntry    int64
	metrics     Recorder
	logger      *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time

	mu      sync.RWMutex
	state   State
	active  string
	pending string
}

// NewManager creates a Manager. network performs the real fetches and must
// not itself route through the cache. A nil recorder disables metrics.
func NewManager(storage Storage, network http.RoundTripper, cfg Config, metrics Recorder, logger *zap.Logger) *Manager {
	if network == nil {
		network = http.DefaultTransport
	}
	concurrency := cfg.InstallConcurrency
	if concurrency <= 0 {
		concurrency = defaultInstallConcurrency
	}
	maxEntry := cfg.MaxEntryBytes
	if maxEntry <= 0 {
		maxEntry = defaultMaxEntryBytes
	}
	return &Manager{
		storage:     storage,
		network:     network,
		rules:       cfg.Rules,
		concurrency: concurrency,
		maxEntry:    maxEntry,
		metrics:     metrics,
		logger:      logger,
		tracer:      otel.Tracer("currency-converter/cache"),
		now:         time.Now,
		state:       StateUninitialized,
	}
}

// RequestKey is the storage key of a request
func RequestKey(method, rawURL string) string {
	return method + " " + rawURL
}

// ResolveManifest turns manifest entries into absolute URLs. Relative
// entries resolve against origin.
func ResolveManifest(origin string, entries []string) ([]string, error) {
	var base *url.URL
	if origin != "" {
		u, err := url.Parse(origin)
		if err != nil {
			return nil, fmt.Errorf("invalid origin %q: %w", origin, err)
		}
		base = u
	}

	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		u, err := url.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid manifest entry %q: %w", entry, err)
		}
		if !u.IsAbs() {
			if base == nil {
				return nil, fmt.Errorf("relative manifest entry %q needs an origin", entry)
			}
			u = base.ResolveReference(u)
		}
		out = append(out, u.String())
	}
	return out, nil
}

// State returns the current state and the active generation
func (m *Manager) State() (State, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.active
}

// Start brings the manager up for generation. An already stored generation
// is activated directly; otherwise the manifest is installed first. If the
// install fails the newest stored generation keeps serving.
func (m *Manager) Start(ctx context.Context, generation string, manifest []string) error {
	ok, err := m.storage.HasGeneration(ctx, generation)
	if err != nil {
		return fmt.Errorf("failed to check cache generation: %w", err)
	}

	if !ok {
		if err := m.Install(ctx, generation, manifest); err != nil {
			m.fallback(ctx)
			return err
		}
	}

	return m.Activate(ctx, generation)
}

// fallback serves the newest stored generation without purging anything
func (m *Manager) fallback(ctx context.Context) {
	names, err := m.storage.Generations(ctx)
	if err != nil || len(names) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != "" {
		return
	}
	m.state = StateActive
	m.active = names[0]
	m.logger.Warn("Serving previous cache generation", zap.String("generation", names[0]))
}

// Install fetches every manifest URL and stores the responses as one
// generation. Any failed fetch or non-ok status aborts the whole batch.
func (m *Manager) Install(ctx context.Context, generation string, manifest []string) error {
	ctx, span := m.tracer.Start(ctx, "cache.Install", trace.WithAttributes(
		attribute.String("cache.generation", generation),
		attribute.Int("cache.manifest_size", len(manifest)),
	))
	defer span.End()

	m.mu.Lock()
	if m.state == StateInstalling {
		m.mu.Unlock()
		return ErrInstallInProgress
	}
	previous := m.state
	m.state = StateInstalling
	m.mu.Unlock()

	restore := func() {
		m.mu.Lock()
		m.state = previous
		m.mu.Unlock()
	}

	entries := make([]model.CachedResource, len(manifest))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, rawURL := range manifest {
		i, rawURL := i, rawURL
		g.Go(func() error {
			payload, err := m.fetchForInstall(gctx, generation, rawURL)
			if err != nil {
				return err
			}
			entries[i] = model.CachedResource{
				RequestKey: RequestKey(http.MethodGet, rawURL),
				Generation: generation,
				Payload:    *payload,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		restore()
		span.RecordError(err)
		span.SetStatus(codes.Error, "install failed")
		m.logger.Error("Cache install failed", zap.String("generation", generation), zap.Error(err))
		return err
	}

	if err := m.storage.PutAll(ctx, generation, entries); err != nil {
		restore()
		span.RecordError(err)
		span.SetStatus(codes.Error, "install failed")
		m.logger.Error("Cache install failed", zap.String("generation", generation), zap.Error(err))
		return &ManifestInstallError{Generation: generation, Err: err}
	}

	m.mu.Lock()
	m.pending = generation
	if m.active == "" {
		m.state = StateInstalled
	} else {
		// The previous generation keeps serving until activation
		m.state = StateActive
	}
	m.mu.Unlock()

	m.logger.Info("Cache generation installed",
		zap.String("generation", generation),
		zap.Int("entries", len(entries)),
	)
	return nil
}

func (m *Manager) fetchForInstall(ctx context.Context, generation, rawURL string) (*model.ResourcePayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &ManifestInstallError{Generation: generation, URL: rawURL, Err: err}
	}

	resp, err := m.network.RoundTrip(req)
	if err != nil {
		return nil, &ManifestInstallError{Generation: generation, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if !isOK(resp.StatusCode) {
		return nil, &ManifestInstallError{Generation: generation, URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, m.maxEntry+1))
	if err != nil {
		return nil, &ManifestInstallError{Generation: generation, URL: rawURL, Err: err}
	}
	if int64(len(body)) > m.maxEntry {
		return nil, &ManifestInstallError{Generation: generation, URL: rawURL, Err: ErrEntryTooLarge}
	}

	return payloadFrom(rawURL, resp, body), nil
}

// Activate makes generation the active one and deletes all others
func (m *Manager) Activate(ctx context.Context, generation string) error {
	ok, err := m.storage.HasGeneration(ctx, generation)
	if err != nil {
		return fmt.Errorf("failed to check cache generation: %w", err)
	}
	if !ok {
		return ErrGenerationNotInstalled
	}

	purged, err := m.storage.DeleteGenerationsExcept(ctx, generation)
	if err != nil {
		return fmt.Errorf("failed to purge old cache generations: %w", err)
	}

	m.mu.Lock()
	m.state = StateActive
	m.active = generation
	if m.pending == generation {
		m.pending = ""
	}
	m.mu.Unlock()

	m.logger.Info("Cache generation activated",
		zap.String("generation", generation),
		zap.Int("purged", purged),
	)
	return nil
}

// Handle answers req from the active generation, or from the network on a
// miss. Allow-listed misses are stored for next time. Failing to store
// never fails the request.
func (m *Manager) Handle(req *http.Request) (*http.Response, error) {
	rawURL := req.URL.String()
	ctx, span := m.tracer.Start(req.Context(), "cache.Handle", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.url", rawURL),
	))
	defer span.End()

	m.mu.RLock()
	state, generation := m.state, m.active
	m.mu.RUnlock()

	if req.Method != http.MethodGet || state == StateSuperseded || generation == "" {
		span.SetAttributes(attribute.Bool("cache.bypass", true))
		return m.fetch(req)
	}

	key := RequestKey(req.Method, rawURL)
	entry, err := m.storage.Match(ctx, generation, key)
	if err != nil {
		m.logger.Warn("Cache lookup failed", zap.String("key", key), zap.Error(err))
	}
	if entry != nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		m.recordLookup(true)
		return responseFrom(req, &entry.Payload), nil
	}

	span.SetAttributes(attribute.Bool("cache.hit", false))
	m.recordLookup(false)

	if err == nil {
		if gone := m.checkSuperseded(ctx, generation); gone {
			return m.fetch(req)
		}
	}

	resp, err := m.fetch(req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	rule, ok := m.ruleFor(rawURL)
	if !ok || !(rule.Opaque || isOK(resp.StatusCode)) {
		return resp, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, m.maxEntry+1))
	if err != nil {
		resp.Body.Close()
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if int64(len(body)) > m.maxEntry {
		m.logger.Debug("Response too large to cache", zap.String("key", key), zap.Int64("limit", m.maxEntry))
		resp.Body = &prefixedBody{Reader: io.MultiReader(bytes.NewReader(body), resp.Body), Closer: resp.Body}
		return resp, nil
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	stored := model.CachedResource{
		RequestKey: key,
		Generation: generation,
		Payload:    *payloadFrom(rawURL, resp, bytes.Clone(body)),
		StoredAt:   m.now(),
	}
	if err := m.storage.Put(ctx, stored); err != nil {
		// Don't fail the request
		m.logger.Warn("Failed to cache response", zap.String("key", key), zap.Error(err))
		if m.metrics != nil {
			m.metrics.RecordCacheStoreError()
		}
	}

	return resp, nil
}

// prefixedBody replays the bytes already read ahead of the rest of a body
type prefixedBody struct {
	io.Reader
	io.Closer
}

func (m *Manager) fetch(req *http.Request) (*http.Response, error) {
	resp, err := m.network.RoundTrip(req)
	if err != nil {
		return nil, &FetchError{URL: req.URL.String(), Err: err}
	}
	return resp, nil
}

// checkSuperseded moves to StateSuperseded when the active generation has
// been purged from storage by a newer deployment
func (m *Manager) checkSuperseded(ctx context.Context, generation string) bool {
	ok, err := m.storage.HasGeneration(ctx, generation)
	if err != nil || ok {
		return false
	}

	m.mu.Lock()
	if m.active == generation {
		m.state = StateSuperseded
	}
	m.mu.Unlock()

	m.logger.Warn("Active cache generation was removed, passing requests through",
		zap.String("generation", generation),
	)
	return true
}

func (m *Manager) ruleFor(rawURL string) (Rule, bool) {
	for _, r := range m.rules {
		if strings.HasPrefix(rawURL, r.Prefix) {
			return r, true
		}
	}
	return Rule{}, false
}

func (m *Manager) recordLookup(hit bool) {
	if m.metrics != nil {
		m.metrics.RecordCacheLookup(hit)
	}
}

// Status reports the manager state and the stored generations
func (m *Manager) Status(ctx context.Context) (*model.CacheStatus, error) {
	generations, err := m.storage.Generations(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return &model.CacheStatus{
		State:       string(m.state),
		Active:      m.active,
		Pending:     m.pending,
		Generations: generations,
	}, nil
}

func isOK(status int) bool {
	return status >= 200 && status < 300
}

func payloadFrom(rawURL string, resp *http.Response, body []byte) *model.ResourcePayload {
	return &model.ResourcePayload{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       body,
	}
}

func responseFrom(req *http.Request, p *model.ResourcePayload) *http.Response {
	header := http.Header(p.Header).Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        p.Status,
		StatusCode:    p.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(p.Body)),
		ContentLength: int64(len(p.Body)),
		Request:       req,
	}
}
