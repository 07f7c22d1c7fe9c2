package kafka

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/qubic/go-offchain-worker/entities"
	"github.com/qubic/go-offchain-worker/metrics"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

type KafkaClient interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// Client publishes ledger events. The record key is the block number, so all events of a block
// land on the same partition.
type Client struct {
	kcl     KafkaClient
	metrics *metrics.ProcessingMetrics
	logger  *zap.SugaredLogger
}

func NewClient(kafkaClient KafkaClient, m *metrics.ProcessingMetrics, logger *zap.SugaredLogger) *Client {
	return &Client{
		kcl:     kafkaClient,
		metrics: m,
		logger:  logger,
	}
}

func (kc *Client) Emit(ctx context.Context, event entities.Event) error {
	return kc.PublishEvents(ctx, []entities.Event{event})
}

func (kc *Client) PublishEvents(ctx context.Context, events []entities.Event) error {
	wg := sync.WaitGroup{}
	errorChannel := make(chan error, len(events))

	for _, event := range events {
		record, err := createEventRecord(event)
		if err != nil {
			kc.logger.Errorw("Error while creating event record.", "block", event.Block, "error", err)
			errorChannel <- err
			break
		}

		wg.Add(1)
		kc.kcl.Produce(ctx, record, func(_ *kgo.Record, err error) {
			defer wg.Done()
			if err != nil {
				kc.logger.Errorw("Error while producing event record.", "block", event.Block, "error", err)
				errorChannel <- err
				return
			}
			kc.metrics.IncPublishedEvents()
			errorChannel <- nil
		})
	}

	// promises may still complete after the context is done, the buffered channel absorbs them
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for event records")
	}
	close(errorChannel)

	for err := range errorChannel {
		if err != nil {
			return errors.Wrap(err, "producing event records")
		}
	}
	return nil
}

func createEventRecord(event entities.Event) (*kgo.Record, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling event to json")
	}
	key := make([]byte, 8)
	binary.LittleEndian.PutUint64(key, event.Block)

	return &kgo.Record{
		Key:   key,
		Value: payload,
	}, nil
}
