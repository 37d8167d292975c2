package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/cache"
	"github.com/erp/syncengine/internal/infrastructure/persistence"
	"github.com/erp/syncengine/internal/infrastructure/resilience"
	"github.com/erp/syncengine/tests/testutil"
)

const testConnectorID = "woo-main"

// ---------------------------------------------------------------------------
// Fake platform
// ---------------------------------------------------------------------------

// fakePlatform serves records from memory. fetchHook and listHook can inject
// errors; call numbers start at 1.
type fakePlatform struct {
	mu         sync.Mutex
	records    map[integration.EntityType][]*integration.ExternalRecord
	fetchCalls map[string]int
	listCalls  int
	fetchHook  func(ctx context.Context, externalID string, call int) error
	listHook   func(call int) error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		records:    make(map[integration.EntityType][]*integration.ExternalRecord),
		fetchCalls: make(map[string]int),
	}
}

func (p *fakePlatform) seed(et integration.EntityType, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 1; i <= n; i++ {
		p.records[et] = append(p.records[et], testRecord(et, i))
	}
}

func (p *fakePlatform) setFetchHook(fn func(ctx context.Context, externalID string, call int) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetchHook = fn
}

func (p *fakePlatform) fetchCount(externalID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetchCalls[externalID]
}

func (p *fakePlatform) totalFetches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.fetchCalls {
		n += c
	}
	return n
}

func (p *fakePlatform) listCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listCalls
}

func (p *fakePlatform) Code() integration.PlatformCode {
	return integration.PlatformCodeWooCommerce
}

func (p *fakePlatform) ListPage(ctx context.Context, q integration.PageQuery) (*integration.Page, error) {
	p.mu.Lock()
	p.listCalls++
	call, hook := p.listCalls, p.listHook
	var all []*integration.ExternalRecord
	for _, rec := range p.records[q.EntityType] {
		if q.Search == "" || strings.EqualFold(rec.Email, q.Search) {
			all = append(all, rec)
		}
	}
	p.mu.Unlock()

	if hook != nil {
		if err := hook(call); err != nil {
			return nil, err
		}
	}
	size := q.PageSize
	if size <= 0 {
		size = 100
	}
	start := (q.Page - 1) * size
	if start > len(all) {
		start = len(all)
	}
	end := min(start+size, len(all))
	return &integration.Page{Items: all[start:end], HasMore: end < len(all), Total: len(all)}, nil
}

func (p *fakePlatform) Fetch(ctx context.Context, et integration.EntityType, externalID string) (*integration.ExternalRecord, error) {
	p.mu.Lock()
	p.fetchCalls[externalID]++
	call, hook := p.fetchCalls[externalID], p.fetchHook
	var found *integration.ExternalRecord
	for _, rec := range p.records[et] {
		if rec.ExternalID == externalID {
			found = rec
			break
		}
	}
	p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, externalID, call); err != nil {
			return nil, err
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s %s", integration.ErrPlatformEntityNotFound, et, externalID)
	}
	cp := *found
	return &cp, nil
}

func testRecord(et integration.EntityType, i int) *integration.ExternalRecord {
	id := strconv.Itoa(i)
	raw, _ := json.Marshal(map[string]any{"id": i})
	rec := &integration.ExternalRecord{
		ExternalID: id,
		EntityType: et,
		Raw:        raw,
	}
	switch et {
	case integration.EntityTypeCustomer:
		rec.DisplayName = fmt.Sprintf("Customer %d", i)
		rec.Email = fmt.Sprintf("customer%d@example.com", i)
	case integration.EntityTypeOrder:
		rec.DisplayName = "#" + id
		rec.Amount = decimal.NewFromInt(int64(i * 10))
		rec.Currency = "EUR"
	default:
		rec.DisplayName = fmt.Sprintf("%s %d", et, i)
		rec.SKU = fmt.Sprintf("SKU-%d", i)
	}
	return rec
}

// fakeProvider exposes one connector backed by a fakePlatform
type fakeProvider struct {
	conn     *integration.Connector
	platform integration.ExternalPlatform
}

func (p *fakeProvider) Connector(connectorID string) (*integration.Connector, error) {
	if connectorID != p.conn.ID {
		return nil, fmt.Errorf("%w: %s", integration.ErrConnectorNotConfigured, connectorID)
	}
	return p.conn, nil
}

func (p *fakeProvider) DefaultConnector(orgID uuid.UUID) (*integration.Connector, error) {
	if orgID != p.conn.OrgID {
		return nil, integration.ErrConnectorNotConfigured
	}
	return p.conn, nil
}

func (p *fakeProvider) Platform(connectorID string) (integration.ExternalPlatform, error) {
	if _, err := p.Connector(connectorID); err != nil {
		return nil, err
	}
	return p.platform, nil
}

// ---------------------------------------------------------------------------
// Recording observer
// ---------------------------------------------------------------------------

type recordingObserver struct {
	mu       sync.Mutex
	batches  []int
	outcomes map[string]int
	retries  int
	rateHits int
	finished []integration.QueueStatus
	previews int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{outcomes: make(map[string]int)}
}

func (o *recordingObserver) QueueStarted(string, integration.EntityType, int) {}

func (o *recordingObserver) QueueFinished(_ string, _ integration.EntityType, status integration.QueueStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, status)
}

func (o *recordingObserver) ItemProcessed(_ string, _ integration.EntityType, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func (o *recordingObserver) ItemRetried(_ string, _ integration.EntityType, rateLimited bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
	if rateLimited {
		o.rateHits++
	}
}

func (o *recordingObserver) BatchProcessed(_ string, _ integration.EntityType, size int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, size)
}

func (o *recordingObserver) PreviewComputed(string, integration.EntityType, int, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.previews++
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harnessOptions struct {
	breakerThreshold int
	idempotency      bool
	previewCache     bool
	sharedLimiter    redis.Scripter
}

type harness struct {
	orgID    uuid.UUID
	clock    *resilience.ManualClock
	platform *fakePlatform
	registry *resilience.Registry
	queues   *persistence.GormSyncQueueRepository
	items    *persistence.GormSyncQueueItemRepository
	mappings *persistence.GormIntegrationMappingRepository
	activity *persistence.GormActivityLogRepository
	observer *recordingObserver
	syncs    *SyncService
	previews *PreviewService
	bulk     *BulkService

	mu       sync.Mutex
	notified []uuid.UUID
}

func newHarness(t *testing.T, opts ...func(*harnessOptions)) *harness {
	t.Helper()
	o := harnessOptions{breakerThreshold: 1000}
	for _, opt := range opts {
		opt(&o)
	}

	db := testutil.NewSQLiteDB(t)
	h := &harness{
		orgID:    testutil.TestOrgID(),
		clock:    resilience.NewManualClock(time.Now()),
		platform: newFakePlatform(),
		queues:   persistence.NewGormSyncQueueRepository(db),
		items:    persistence.NewGormSyncQueueItemRepository(db),
		mappings: persistence.NewGormIntegrationMappingRepository(db),
		activity: persistence.NewGormActivityLogRepository(db),
		observer: newRecordingObserver(),
	}
	backend := resilience.LimiterBackendMemory
	registryOpts := []resilience.RegistryOption{resilience.WithClock(h.clock), resilience.WithFailureClassifier(IsBreakerFailure)}
	if o.sharedLimiter != nil {
		backend = resilience.LimiterBackendRedis
		registryOpts = append(registryOpts, resilience.WithRedis(o.sharedLimiter, "test:ratelimit:"))
	}
	h.registry = resilience.NewRegistry(backend, resilience.Policy{
		MaxTokens:  1000,
		RefillRate: 1000,
		Breaker: resilience.BreakerConfig{
			FailureThreshold: o.breakerThreshold,
			Cooldown:         30 * time.Second,
		},
	}, registryOpts...)

	provider := &fakeProvider{
		conn: &integration.Connector{
			ID:       testConnectorID,
			OrgID:    h.orgID,
			Platform: integration.PlatformCodeWooCommerce,
			Name:     "Main store",
			Default:  true,
		},
		platform: h.platform,
	}

	syncOpts := []SyncServiceOption{
		WithClock(h.clock),
		WithObserver(h.observer),
		WithLogger(testutil.NewTestLogger(t)),
		WithEnqueueNotifier(func(id uuid.UUID) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.notified = append(h.notified, id)
		}),
	}
	if o.idempotency {
		store := cache.NewInMemoryIdempotencyStore()
		t.Cleanup(func() { _ = store.Close() })
		syncOpts = append(syncOpts, WithIdempotencyStore(store, time.Hour))
	}
	h.syncs = NewSyncService(SyncServiceDeps{
		Queues:     h.queues,
		Items:      h.items,
		Upserter:   h.mappings,
		Activity:   h.activity,
		Platforms:  provider,
		Resilience: h.registry,
	}, syncOpts...)

	var previewCache integration.PreviewCache
	if o.previewCache {
		previewCache = cache.NewInMemoryPreviewCache()
	}
	h.previews = NewPreviewService(PreviewServiceDeps{
		Mappings:   h.mappings,
		Previews:   persistence.NewGormPreviewRepository(db),
		Cache:      previewCache,
		Platforms:  provider,
		Resilience: h.registry,
	}, WithPreviewClock(h.clock), WithPreviewObserver(h.observer))
	h.bulk = NewBulkService(h.syncs, h.previews)
	return h
}

func withBreakerThreshold(n int) func(*harnessOptions) {
	return func(o *harnessOptions) { o.breakerThreshold = n }
}

func withIdempotencyStore() func(*harnessOptions) {
	return func(o *harnessOptions) { o.idempotency = true }
}

func withPreviewCache() func(*harnessOptions) {
	return func(o *harnessOptions) { o.previewCache = true }
}

func withSharedLimiter(scripter redis.Scripter) func(*harnessOptions) {
	return func(o *harnessOptions) { o.sharedLimiter = scripter }
}

// ---------------------------------------------------------------------------
// Flaky shared limiter
// ---------------------------------------------------------------------------

// flakyScripter stands in for the Redis server behind a shared token bucket.
// Calls fail while failures remain; after that every request is granted.
type flakyScripter struct {
	redis.Scripter

	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyScripter) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func (f *flakyScripter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *flakyScripter) EvalSha(ctx context.Context, _ string, _ []string, _ ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	cmd := redis.NewCmd(ctx)
	if f.failures > 0 {
		f.failures--
		cmd.SetErr(fmt.Errorf("dial tcp 127.0.0.1:6379: connect: connection refused"))
		return cmd
	}
	cmd.SetVal([]any{int64(1), "999"})
	return cmd
}

func (h *harness) notifications() []uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uuid.UUID(nil), h.notified...)
}

func (h *harness) start(t *testing.T, in StartSyncInput) *StartSyncResult {
	t.Helper()
	if in.OrgID == uuid.Nil {
		in.OrgID = h.orgID
	}
	if in.EntityType == "" {
		in.EntityType = integration.EntityTypeCustomer
	}
	res, err := h.syncs.StartSync(context.Background(), in)
	require.NoError(t, err)
	return res
}

func (h *harness) status(t *testing.T, queueID uuid.UUID) *QueueStatusResponse {
	t.Helper()
	st, err := h.syncs.GetStatus(context.Background(), h.orgID, queueID)
	require.NoError(t, err)
	return st
}

func (h *harness) countActivity(t *testing.T, queueID uuid.UUID, action integration.ActivityAction) int {
	t.Helper()
	entries, err := h.activity.ListByQueue(context.Background(), queueID, 10000)
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
