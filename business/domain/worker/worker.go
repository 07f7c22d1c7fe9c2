package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/qubic/go-offchain-worker/business/domain/dispatch"
	"github.com/qubic/go-offchain-worker/business/domain/price"
	"github.com/qubic/go-offchain-worker/entities"
	"github.com/qubic/go-offchain-worker/metrics"
	"go.uber.org/zap"
)

const (
	outcomeOk          = "ok"
	outcomeCached      = "cached"
	outcomeAlreadyHeld = "already_held"
	outcomeError       = "error"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

type DurableCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl entities.TTL) error
	TryLock(ctx context.Context, key string, ttl entities.TTL) (*entities.Guard, error)
}

type Gateway interface {
	SubmitNumberSigned(ctx context.Context, number uint64) error
	SubmitNumberUnsigned(ctx context.Context, number uint64) error
	SubmitNumberWithSignedPayload(ctx context.Context, number uint64) error
	SubmitPriceWithSignedPayload(ctx context.Context, price entities.PricePoint) error
}

type Config struct {
	PriceURL         string
	MetadataURL      string
	PriceLockKey     string
	PriceCacheKey    string
	MetadataLockKey  string
	MetadataCacheKey string
	LockTTL          entities.TTL
	PriceCacheTTL    entities.TTL
	MetadataCacheTTL entities.TTL
}

// Worker runs one task per block. Invocations are independent of each other and coordinate only
// through the durable cache.
type Worker struct {
	fetcher Fetcher
	cache   DurableCache
	gateway Gateway
	config  Config
	metrics *metrics.ProcessingMetrics
	logger  *zap.SugaredLogger
}

func NewWorker(fetcher Fetcher, cache DurableCache, gateway Gateway, config Config, m *metrics.ProcessingMetrics, logger *zap.SugaredLogger) *Worker {
	return &Worker{
		fetcher: fetcher,
		cache:   cache,
		gateway: gateway,
		config:  config,
		metrics: m,
		logger:  logger,
	}
}

// Run executes the task selected for the block. Errors are logged and not returned, a failed
// invocation is retried by a later block selecting the same task.
func (w *Worker) Run(ctx context.Context, block uint64) {
	start := time.Now()
	task, err := dispatch.Select(block)
	if err != nil {
		w.logger.Errorw("Failed to select task.", "block", block, "error", err)
		w.metrics.ObserveInvocation(entities.TaskCount.String(), outcomeError, time.Since(start).Seconds())
		return
	}

	outcome, err := w.runTask(ctx, block, task)
	switch {
	case errors.Is(err, entities.ErrAlreadyHeld):
		outcome = outcomeAlreadyHeld
		w.logger.Infow("Skipping task, lock is held by another invocation.", "block", block, "task", task, "reason", err)
	case err != nil:
		outcome = outcomeError
		w.logger.Errorw("Task failed.", "block", block, "task", task, "error", err)
	default:
		w.logger.Debugw("Task finished.", "block", block, "task", task, "outcome", outcome)
	}
	w.metrics.ObserveInvocation(task.String(), outcome, time.Since(start).Seconds())
}

func (w *Worker) runTask(ctx context.Context, block uint64, task entities.Task) (string, error) {
	switch task {
	case entities.TaskFetchPrice:
		return outcomeOk, w.fetchPrice(ctx)
	case entities.TaskSignedNumberSubmit:
		return outcomeOk, w.gateway.SubmitNumberSigned(ctx, block)
	case entities.TaskUnsignedNumberSubmit:
		return outcomeOk, w.gateway.SubmitNumberUnsigned(ctx, block)
	case entities.TaskUnsignedNumberSubmitSignedPayload:
		return outcomeOk, w.gateway.SubmitNumberWithSignedPayload(ctx, block)
	case entities.TaskFetchMetadata:
		return w.fetchMetadata(ctx)
	default:
		return outcomeError, errors.Wrapf(entities.ErrUnknownTask, "[%d]", task)
	}
}

func (w *Worker) fetchPrice(ctx context.Context) error {
	_, err := w.cache.TryLock(ctx, w.config.PriceLockKey, w.config.LockTTL)
	if err != nil {
		return err
	}

	body, err := w.fetcher.Fetch(ctx, w.config.PriceURL, nil)
	if err != nil {
		return errors.Wrap(err, "fetching price")
	}
	info, err := price.ExtractPrice(body)
	if err != nil {
		return err
	}
	point, err := price.ParsePrice(info.Usd)
	if err != nil {
		return errors.Wrapf(err, "parsing price of [%s]", info.Name)
	}

	value, err := json.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "marshalling price info")
	}
	err = w.cache.Set(ctx, w.config.PriceCacheKey, value, w.config.PriceCacheTTL)
	if err != nil {
		return errors.Wrap(err, "caching price")
	}
	w.logger.Infow("Fetched price.", "name", info.Name, "price", point.String())

	return w.gateway.SubmitPriceWithSignedPayload(ctx, point)
}

func (w *Worker) fetchMetadata(ctx context.Context) (string, error) {
	cached, err := w.cache.Get(ctx, w.config.MetadataCacheKey)
	if err == nil {
		w.logger.Infow("Metadata cached.", "metadata", string(cached))
		return outcomeCached, nil
	}
	if !errors.Is(err, entities.ErrCacheMiss) {
		return outcomeError, errors.Wrap(err, "reading metadata cache")
	}

	_, err = w.cache.TryLock(ctx, w.config.MetadataLockKey, w.config.LockTTL)
	if err != nil {
		return outcomeError, err
	}

	body, err := w.fetcher.Fetch(ctx, w.config.MetadataURL, nil)
	if err != nil {
		return outcomeError, errors.Wrap(err, "fetching metadata")
	}
	metadata, err := price.ExtractMetadata(body)
	if err != nil {
		return outcomeError, err
	}

	value, err := json.Marshal(metadata)
	if err != nil {
		return outcomeError, errors.Wrap(err, "marshalling metadata")
	}
	err = w.cache.Set(ctx, w.config.MetadataCacheKey, value, w.config.MetadataCacheTTL)
	if err != nil {
		return outcomeError, errors.Wrap(err, "caching metadata")
	}
	w.logger.Infow("Fetched metadata.", "login", metadata.Login, "repos", metadata.PublicRepos)
	return outcomeOk, nil
}
