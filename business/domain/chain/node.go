package chain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/qubic/go-offchain-worker/entities"
	"github.com/qubic/go-offchain-worker/metrics"
	"go.uber.org/zap"
)

const DefaultBlockInterval = 6 * time.Second

type DataStore interface {
	SetLastProcessedBlock(block uint64) error
	GetLastProcessedBlock() (uint64, error)
}

type Pool interface {
	Drain() []entities.Extrinsic
}

type Runtime interface {
	Apply(ctx context.Context, block uint64, extrinsic entities.Extrinsic) error
}

type Invoker interface {
	Run(ctx context.Context, block uint64)
}

type Config struct {
	BlockInterval time.Duration
}

// Node is a single node block loop. Each block applies the pooled extrinsics, persists the new
// height and starts one worker invocation for it.
type Node struct {
	dataStore         DataStore
	pool              Pool
	runtime           Runtime
	invoker           Invoker
	config            Config
	processingMetrics *metrics.ProcessingMetrics
	logger            *zap.SugaredLogger

	height      atomic.Uint64
	invocations sync.WaitGroup
}

func NewNode(db DataStore, pool Pool, runtime Runtime, invoker Invoker, config Config,
	m *metrics.ProcessingMetrics, logger *zap.SugaredLogger) (*Node, error) {

	height, err := db.GetLastProcessedBlock()
	if err != nil && !errors.Is(err, entities.ErrNotFound) {
		return nil, errors.Wrap(err, "getting last processed block")
	}
	if config.BlockInterval <= 0 {
		config.BlockInterval = DefaultBlockInterval
	}

	node := Node{
		dataStore:         db,
		pool:              pool,
		runtime:           runtime,
		invoker:           invoker,
		config:            config,
		processingMetrics: m,
		logger:            logger,
	}
	node.height.Store(height)
	logger.Infow("Starting node.", "height", height, "interval", config.BlockInterval)
	return &node, nil
}

func (n *Node) CurrentBlock() uint64 {
	return n.height.Load()
}

func (n *Node) StartProcessing(ctx context.Context) error {
	ticker := time.NewTicker(n.config.BlockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := n.ProduceBlock(ctx)
			if err != nil {
				n.logger.Errorw("Error producing block.", "error", err)
			}
		}
	}
}

// ProduceBlock applies all pooled extrinsics in the next block. Extrinsics that fail to apply are
// dropped. The worker invocation for the block runs in its own goroutine.
func (n *Node) ProduceBlock(ctx context.Context) error {
	block := n.height.Load() + 1

	extrinsics := n.pool.Drain()
	n.processingMetrics.SetPoolSize(len(extrinsics))
	applied := 0
	for _, extrinsic := range extrinsics {
		err := n.runtime.Apply(ctx, block, extrinsic)
		if err != nil {
			n.logger.Warnw("Dropping extrinsic.", "block", block, "call", extrinsic.Call.Kind, "error", err)
			n.processingMetrics.IncDropped()
			continue
		}
		applied++
	}
	n.processingMetrics.AddApplied(applied)

	err := n.dataStore.SetLastProcessedBlock(block)
	if err != nil {
		return errors.Wrapf(err, "setting last processed block [%d]", block)
	}
	n.height.Store(block)
	n.processingMetrics.SetProducedBlock(block)
	if len(extrinsics) > 0 {
		n.logger.Infow("Produced block.", "block", block, "applied", applied, "dropped", len(extrinsics)-applied)
	}

	n.invocations.Add(1)
	go func() {
		defer n.invocations.Done()
		n.invoker.Run(ctx, block)
	}()
	return nil
}

// Wait blocks until all started worker invocations have returned.
func (n *Node) Wait() {
	n.invocations.Wait()
}
