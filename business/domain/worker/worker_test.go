package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/qubic/go-offchain-worker/business/domain/runtime"
	"github.com/qubic/go-offchain-worker/business/domain/submission"
	"github.com/qubic/go-offchain-worker/business/domain/txpool"
	"github.com/qubic/go-offchain-worker/entities"
	"github.com/qubic/go-offchain-worker/external/remote"
	"github.com/qubic/go-offchain-worker/infrastructure/keystore"
	"github.com/qubic/go-offchain-worker/infrastructure/store/pebbledb"
	"github.com/qubic/go-offchain-worker/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type FakeBlocks struct {
	block uint64
}

func (f *FakeBlocks) CurrentBlock() uint64 {
	return f.block
}

type FakeEmitter struct {
	events []entities.Event
}

func (f *FakeEmitter) Emit(_ context.Context, event entities.Event) error {
	f.events = append(f.events, event)
	return nil
}

type FakeGateway struct {
	signed, unsigned, payload []uint64
	prices                    []entities.PricePoint
}

func (f *FakeGateway) SubmitNumberSigned(_ context.Context, number uint64) error {
	f.signed = append(f.signed, number)
	return nil
}

func (f *FakeGateway) SubmitNumberUnsigned(_ context.Context, number uint64) error {
	f.unsigned = append(f.unsigned, number)
	return nil
}

func (f *FakeGateway) SubmitNumberWithSignedPayload(_ context.Context, number uint64) error {
	f.payload = append(f.payload, number)
	return nil
}

func (f *FakeGateway) SubmitPriceWithSignedPayload(_ context.Context, price entities.PricePoint) error {
	f.prices = append(f.prices, price)
	return nil
}

type FakeFetcher struct {
	body  []byte
	err   error
	calls atomic.Int32
}

func (f *FakeFetcher) Fetch(_ context.Context, _ string, _ map[string]string) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

var testConfig = Config{
	PriceURL:         "price",
	MetadataURL:      "metadata",
	PriceLockKey:     "ocw::price-lock",
	PriceCacheKey:    "ocw::price-cache",
	MetadataLockKey:  "ocw::metadata-lock",
	MetadataCacheKey: "ocw::metadata-cache",
	LockTTL:          entities.TTL{Blocks: 3, Time: 4 * time.Second},
	PriceCacheTTL:    entities.TTL{Blocks: 1, Time: 6 * time.Second},
	MetadataCacheTTL: entities.TTL{Blocks: 100, Time: 10 * time.Minute},
}

func newTestCache(t *testing.T, blocks pebbledb.BlockNumberProvider) *pebbledb.OffchainStore {
	tempDir, err := os.MkdirTemp("", "worker_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tempDir) })

	cache, err := pebbledb.NewOffchainStore(tempDir, blocks)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func newTestMetrics() *metrics.ProcessingMetrics {
	return metrics.NewProcessingMetrics(prometheus.NewRegistry(), "test")
}

type pipeline struct {
	worker  *Worker
	pool    *txpool.Pool
	runtime *runtime.Runtime
	cache   *pebbledb.OffchainStore
	emitter *FakeEmitter
}

// newTestPipeline wires the worker to a real pool, gateway, keyring and runtime.
func newTestPipeline(t *testing.T, priceURL string, block uint64) *pipeline {
	validator := submission.NewValidator(submission.DefaultTagPrefix, submission.DefaultPriority, submission.DefaultLongevity, keystore.Verify)
	pool := txpool.NewPool(validator, keystore.Verify, txpool.Config{Capacity: 10, BlockInterval: time.Minute, SignedLongevity: submission.DefaultLongevity})
	t.Cleanup(pool.Close)

	keyring := keystore.NewKeyring()
	_, err := keyring.Generate()
	require.NoError(t, err)

	tempDir, err := os.MkdirTemp("", "worker_ledger_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tempDir) })
	ledger, err := pebbledb.NewLedgerStore(tempDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	emitter := &FakeEmitter{}
	rt := runtime.NewRuntime(ledger, emitter, validator, runtime.Config{Fee: runtime.DefaultFee}, zap.NewNop().Sugar())
	cache := newTestCache(t, &FakeBlocks{block: block})

	config := testConfig
	config.PriceURL = priceURL
	w := NewWorker(remote.NewClient("test-agent", time.Second), cache, submission.NewGateway(pool, keyring, rt), config, newTestMetrics(), zap.NewNop().Sugar())
	return &pipeline{worker: w, pool: pool, runtime: rt, cache: cache, emitter: emitter}
}

func newPriceServer(t *testing.T, body string) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWorker_Run_fetchPrice_endToEnd(t *testing.T) {
	server := newPriceServer(t, `{"data":{"name":"Polkadot","priceUsd":"6.123456789"}}`)
	p := newTestPipeline(t, server.URL, 5)
	ctx := context.Background()

	p.worker.Run(ctx, 5) // 5 % 5 selects the price task

	extrinsics := p.pool.Drain()
	require.Len(t, extrinsics, 1)
	call := extrinsics[0].Call
	assert.Equal(t, entities.CallSubmitPriceUnsignedWithSignedPayload, call.Kind)
	valid, err := p.pool.Validate(call)
	require.NoError(t, err)
	assert.Equal(t, []string{"ocw-demosubmit_price_unsigned_with_signed_payload"}, valid.Provides)

	require.NoError(t, p.runtime.Apply(ctx, 6, extrinsics[0]))
	prices, err := p.runtime.Prices()
	require.NoError(t, err)
	assert.Equal(t, []entities.PricePoint{{Integer: 6, Fraction: 123456}}, prices)
	require.Len(t, p.emitter.events, 1)
	assert.Equal(t, call.PricePayload.Public, p.emitter.events[0].Submitter)

	cached, err := p.cache.Get(ctx, testConfig.PriceCacheKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Polkadot","usd":"6.123456789"}`, string(cached))
}

func TestWorker_Run_fetchPrice_givenMalformedPrice_thenNothingSubmitted(t *testing.T) {
	server := newPriceServer(t, `{"data":{"name":"Polkadot","priceUsd":"abc"}}`)
	p := newTestPipeline(t, server.URL, 5)
	ctx := context.Background()

	p.worker.Run(ctx, 5)

	assert.Equal(t, 0, p.pool.Len())
	_, err := p.cache.Get(ctx, testConfig.PriceCacheKey)
	assert.ErrorIs(t, err, entities.ErrCacheMiss)
	prices, err := p.runtime.Prices()
	require.NoError(t, err)
	assert.Empty(t, prices)
}

func TestWorker_Run_fetchPrice_givenLockHeld_thenNoFetch(t *testing.T) {
	cache := newTestCache(t, &FakeBlocks{block: 10})
	fetcher := &FakeFetcher{body: []byte(`{"data":{"name":"Polkadot","priceUsd":"6.123456"}}`)}
	gateway := &FakeGateway{}
	w := NewWorker(fetcher, cache, gateway, testConfig, newTestMetrics(), zap.NewNop().Sugar())

	_, err := cache.TryLock(context.Background(), testConfig.PriceLockKey, testConfig.LockTTL)
	require.NoError(t, err)

	w.Run(context.Background(), 10)
	assert.Equal(t, int32(0), fetcher.calls.Load())
	assert.Empty(t, gateway.prices)
}

func TestWorker_Run_fetchMetadata_givenCached_thenSingleFetch(t *testing.T) {
	cache := newTestCache(t, &FakeBlocks{block: 4})
	fetcher := &FakeFetcher{body: []byte(`{"login":"substrate-developer-hub","blog":"https://substrate.io","public_repos":42}`)}
	w := NewWorker(fetcher, cache, &FakeGateway{}, testConfig, newTestMetrics(), zap.NewNop().Sugar())

	w.Run(context.Background(), 4)
	w.Run(context.Background(), 9)

	assert.Equal(t, int32(1), fetcher.calls.Load())
	cached, err := cache.Get(context.Background(), testConfig.MetadataCacheKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"login":"substrate-developer-hub","blog":"https://substrate.io","public_repos":42}`, string(cached))
}

func TestWorker_Run_numberTasks_submitBlockHeight(t *testing.T) {
	gateway := &FakeGateway{}
	w := NewWorker(&FakeFetcher{}, newTestCache(t, &FakeBlocks{}), gateway, testConfig, newTestMetrics(), zap.NewNop().Sugar())

	w.Run(context.Background(), 1)
	w.Run(context.Background(), 2)
	w.Run(context.Background(), 3)
	w.Run(context.Background(), 6)

	assert.Equal(t, []uint64{1, 6}, gateway.signed)
	assert.Equal(t, []uint64{2}, gateway.unsigned)
	assert.Equal(t, []uint64{3}, gateway.payload)
}

func TestWorker_Run_givenOrdinalOutOfRange_thenNothingRuns(t *testing.T) {
	gateway := &FakeGateway{}
	fetcher := &FakeFetcher{}
	w := NewWorker(fetcher, newTestCache(t, &FakeBlocks{}), gateway, testConfig, newTestMetrics(), zap.NewNop().Sugar())

	w.Run(context.Background(), 1<<32)

	assert.Equal(t, int32(0), fetcher.calls.Load())
	assert.Empty(t, gateway.signed)
	assert.Empty(t, gateway.prices)
}

func TestWorker_Run_fetchPrice_givenFetchFails_thenNothingCachedOrSubmitted(t *testing.T) {
	for _, fetchErr := range []error{entities.ErrTimeout, entities.ErrTransport, entities.ErrUnexpectedStatus} {
		t.Run(fetchErr.Error(), func(t *testing.T) {
			cache := newTestCache(t, &FakeBlocks{block: 10})
			fetcher := &FakeFetcher{err: fetchErr}
			gateway := &FakeGateway{}
			w := NewWorker(fetcher, cache, gateway, testConfig, newTestMetrics(), zap.NewNop().Sugar())

			w.Run(context.Background(), 10)

			assert.Equal(t, int32(1), fetcher.calls.Load())
			_, err := cache.Get(context.Background(), testConfig.PriceCacheKey)
			assert.ErrorIs(t, err, entities.ErrCacheMiss)
			assert.Empty(t, gateway.prices)
		})
	}
}

func TestWorker_Run_fetchMetadata_givenFetchFails_thenNothingCached(t *testing.T) {
	cache := newTestCache(t, &FakeBlocks{block: 4})
	fetcher := &FakeFetcher{err: entities.ErrTimeout}
	w := NewWorker(fetcher, cache, &FakeGateway{}, testConfig, newTestMetrics(), zap.NewNop().Sugar())

	w.Run(context.Background(), 4)

	assert.Equal(t, int32(1), fetcher.calls.Load())
	_, err := cache.Get(context.Background(), testConfig.MetadataCacheKey)
	assert.ErrorIs(t, err, entities.ErrCacheMiss)
}

func TestWorker_Run_signedNumber_endToEnd(t *testing.T) {
	p := newTestPipeline(t, "unused", 1)
	ctx := context.Background()

	p.worker.Run(ctx, 1) // 1 % 5 selects the signed number task
	extrinsics := p.pool.Drain()
	require.Len(t, extrinsics, 1)
	require.True(t, extrinsics[0].IsSigned())
	assert.Equal(t, uint64(0), extrinsics[0].Call.Nonce)
	require.NoError(t, p.runtime.Apply(ctx, 2, extrinsics[0]))

	// replaying the applied extrinsic is rejected by the pool and by the runtime
	assert.ErrorIs(t, p.pool.SubmitSigned(ctx, extrinsics[0]), entities.ErrDuplicate)
	assert.ErrorIs(t, p.runtime.Apply(ctx, 3, extrinsics[0]), entities.ErrStaleNonce)

	p.worker.Run(ctx, 6)
	next := p.pool.Drain()
	require.Len(t, next, 1)
	assert.Equal(t, uint64(1), next[0].Call.Nonce)
	require.NoError(t, p.runtime.Apply(ctx, 7, next[0]))

	numbers, err := p.runtime.Numbers()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 6}, numbers)
	fees, err := p.runtime.Fees(extrinsics[0].Signer)
	require.NoError(t, err)
	assert.Equal(t, 2*uint64(runtime.DefaultFee), fees)
}
