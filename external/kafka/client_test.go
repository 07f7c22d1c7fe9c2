package kafka

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/qubic/go-offchain-worker/entities"
	"github.com/qubic/go-offchain-worker/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

type MockKafkaClient struct {
	shouldError bool
	hang        bool
	mutex       sync.Mutex
	records     []*kgo.Record
}

func (mkc *MockKafkaClient) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	mkc.mutex.Lock()
	mkc.records = append(mkc.records, r)
	mkc.mutex.Unlock()

	if mkc.hang {
		return
	}
	if mkc.shouldError {
		go promise(nil, errors.New("dummy error"))
		return
	}
	go promise(r, nil)
}

func newTestClient(mock *MockKafkaClient) *Client {
	return NewClient(mock, metrics.NewProcessingMetrics(prometheus.NewRegistry(), "test"), zap.NewNop().Sugar())
}

func TestClient_PublishEvents(t *testing.T) {
	number := uint64(42)
	price := entities.PricePoint{Integer: 6, Fraction: 123456}
	events := []entities.Event{
		{Block: 50000017, Kind: entities.EventNewNumber, Submitter: []byte{0x02, 0x01}, Number: &number},
		{Block: 50000017, Kind: entities.EventNewPrice, Price: &price},
	}

	testData := []struct {
		name        string
		shouldError bool
	}{
		{name: "TestPublishEvents_1", shouldError: false},
		{name: "TestPublishEvents_2", shouldError: true},
	}

	for _, testRun := range testData {
		t.Run(testRun.name, func(t *testing.T) {
			mock := &MockKafkaClient{shouldError: testRun.shouldError}
			err := newTestClient(mock).PublishEvents(context.Background(), events)

			if testRun.shouldError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, mock.records, 2)
		})
	}
}

func TestClient_Emit_createsRecord(t *testing.T) {
	mock := &MockKafkaClient{}
	number := uint64(7)
	event := entities.Event{Block: 300, Kind: entities.EventNewNumber, Number: &number}

	require.NoError(t, newTestClient(mock).Emit(context.Background(), event))
	require.Len(t, mock.records, 1)

	record := mock.records[0]
	assert.Equal(t, uint64(300), binary.LittleEndian.Uint64(record.Key))
	var published entities.Event
	require.NoError(t, json.Unmarshal(record.Value, &published))
	assert.Equal(t, event, published)
}

func TestClient_Emit_givenUndeliveredRecord_thenReturnsOnContextDone(t *testing.T) {
	mock := &MockKafkaClient{hang: true}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	number := uint64(1)
	start := time.Now()
	err := newTestClient(mock).Emit(ctx, entities.Event{Block: 1, Kind: entities.EventNewNumber, Number: &number})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
