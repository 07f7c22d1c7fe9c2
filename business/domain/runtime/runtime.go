package runtime

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/qubic/go-offchain-worker/business/domain/window"
	"github.com/qubic/go-offchain-worker/entities"
	"go.uber.org/zap"
)

const (
	numbersKey   = "numbers"
	pricesKey    = "prices"
	feesPrefix   = "fees/"
	noncesPrefix = "nonces/"
)

const (
	// DefaultFee is charged to the signer of every signed extrinsic.
	DefaultFee         = 1
	DefaultEmitTimeout = 5 * time.Second
)

type Store interface {
	Read(key string) ([]byte, error)
	WriteBatch(values map[string][]byte) error
}

type EventEmitter interface {
	Emit(ctx context.Context, event entities.Event) error
}

type Validator interface {
	Validate(source entities.TransactionSource, call entities.Call) (entities.ValidTransaction, error)
}

type Config struct {
	Fee         uint64
	EmitTimeout time.Duration
}

// Runtime applies extrinsics to the ledger state. It is the only writer of the number and price
// histories and every state transition is serialized and committed in one batch.
type Runtime struct {
	store     Store
	emitter   EventEmitter
	validator Validator
	config    Config
	logger    *zap.SugaredLogger
	mutex     sync.Mutex
}

func NewRuntime(store Store, emitter EventEmitter, validator Validator, config Config, logger *zap.SugaredLogger) *Runtime {
	if config.EmitTimeout <= 0 {
		config.EmitTimeout = DefaultEmitTimeout
	}
	return &Runtime{
		store:     store,
		emitter:   emitter,
		validator: validator,
		config:    config,
		logger:    logger,
	}
}

// Apply executes the extrinsic's call in the given block. Unsigned calls are validated again as
// part of the block before they touch state. The resulting event is emitted after the state is
// committed and outside of the serialized section.
func (r *Runtime) Apply(ctx context.Context, block uint64, extrinsic entities.Extrinsic) error {
	event, err := r.transition(block, extrinsic)
	if err != nil {
		return err
	}
	r.emit(ctx, event)
	return nil
}

func (r *Runtime) transition(block uint64, extrinsic entities.Extrinsic) (entities.Event, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	call := extrinsic.Call
	writes := make(map[string][]byte)

	if call.Kind == entities.CallSubmitNumberSigned {
		if !extrinsic.IsSigned() {
			return entities.Event{}, errors.Wrapf(entities.ErrBadOrigin, "[%s] requires a signed origin", call.Kind)
		}
		err := r.chargeSigner(writes, extrinsic.Signer, call.Nonce)
		if err != nil {
			return entities.Event{}, err
		}
		return r.addNumber(writes, block, extrinsic.Signer, call.Number)
	}

	if extrinsic.IsSigned() {
		return entities.Event{}, errors.Wrapf(entities.ErrBadOrigin, "[%s] requires an unsigned origin", call.Kind)
	}
	_, err := r.validator.Validate(entities.SourceInBlock, call)
	if err != nil {
		return entities.Event{}, errors.Wrapf(err, "validating [%s] in block [%d]", call.Kind, block)
	}

	switch call.Kind {
	case entities.CallSubmitNumberUnsigned:
		return r.addNumber(writes, block, nil, call.Number)
	case entities.CallSubmitNumberUnsignedWithSignedPayload:
		return r.addNumber(writes, block, call.NumberPayload.Public, call.NumberPayload.Number)
	case entities.CallSubmitPriceUnsignedWithSignedPayload:
		return r.addPrice(writes, block, call.PricePayload.Public, call.PricePayload.Price)
	default:
		return entities.Event{}, errors.Wrapf(entities.ErrUnsupportedCall, "[%s]", call.Kind)
	}
}

func (r *Runtime) Numbers() ([]uint64, error) {
	w, err := loadWindow[uint64](r.store, numbersKey)
	if err != nil {
		return nil, err
	}
	return w.Items(), nil
}

func (r *Runtime) Prices() ([]entities.PricePoint, error) {
	w, err := loadWindow[entities.PricePoint](r.store, pricesKey)
	if err != nil {
		return nil, err
	}
	return w.Items(), nil
}

// Fees returns the total fees charged to the given public key.
func (r *Runtime) Fees(public []byte) (uint64, error) {
	return readCounter(r.store, feesPrefix+hex.EncodeToString(public))
}

// Nonce returns the nonce the next signed extrinsic of the given public key has to carry.
func (r *Runtime) Nonce(public []byte) (uint64, error) {
	return readCounter(r.store, noncesPrefix+hex.EncodeToString(public))
}

func (r *Runtime) chargeSigner(writes map[string][]byte, public []byte, nonce uint64) error {
	expected, err := r.Nonce(public)
	if err != nil {
		return errors.Wrap(err, "reading nonce")
	}
	if nonce != expected {
		return errors.Wrapf(entities.ErrStaleNonce, "got [%d], expected [%d]", nonce, expected)
	}
	paid, err := r.Fees(public)
	if err != nil {
		return errors.Wrap(err, "reading fees")
	}

	account := hex.EncodeToString(public)
	writes[noncesPrefix+account] = binary.BigEndian.AppendUint64(nil, expected+1)
	writes[feesPrefix+account] = binary.BigEndian.AppendUint64(nil, paid+r.config.Fee)
	return nil
}

func (r *Runtime) addNumber(writes map[string][]byte, block uint64, submitter []byte, number uint64) (entities.Event, error) {
	err := pushWindow(r.store, writes, numbersKey, number)
	if err != nil {
		return entities.Event{}, err
	}
	err = r.store.WriteBatch(writes)
	if err != nil {
		return entities.Event{}, errors.Wrapf(err, "committing block [%d]", block)
	}
	return entities.Event{Block: block, Kind: entities.EventNewNumber, Submitter: submitter, Number: &number}, nil
}

func (r *Runtime) addPrice(writes map[string][]byte, block uint64, submitter []byte, price entities.PricePoint) (entities.Event, error) {
	err := pushWindow(r.store, writes, pricesKey, price)
	if err != nil {
		return entities.Event{}, err
	}
	err = r.store.WriteBatch(writes)
	if err != nil {
		return entities.Event{}, errors.Wrapf(err, "committing block [%d]", block)
	}
	return entities.Event{Block: block, Kind: entities.EventNewPrice, Submitter: submitter, Price: &price}, nil
}

// emit does not fail the state transition, which is already committed.
func (r *Runtime) emit(ctx context.Context, event entities.Event) {
	ctx, cancel := context.WithTimeout(ctx, r.config.EmitTimeout)
	defer cancel()

	err := r.emitter.Emit(ctx, event)
	if err != nil {
		r.logger.Errorw("Failed to emit event.", "block", event.Block, "kind", event.Kind, "error", err)
	}
}

func readCounter(store Store, key string) (uint64, error) {
	value, err := store.Read(key)
	if errors.Is(err, entities.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(value) != 8 {
		return 0, errors.Errorf("invalid value of length [%d] for [%s]", len(value), key)
	}
	return binary.BigEndian.Uint64(value), nil
}

func pushWindow[T any](store Store, writes map[string][]byte, key string, value T) error {
	w, err := loadWindow[T](store, key)
	if err != nil {
		return err
	}
	w.Push(value)

	data, err := json.Marshal(w.Items())
	if err != nil {
		return errors.Wrapf(err, "marshalling [%s]", key)
	}
	writes[key] = data
	return nil
}

func loadWindow[T any](store Store, key string) (*window.Window[T], error) {
	value, err := store.Read(key)
	if errors.Is(err, entities.ErrNotFound) {
		return window.New[T](window.DefaultCapacity), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading [%s]", key)
	}

	var items []T
	err = json.Unmarshal(value, &items)
	if err != nil {
		return nil, errors.Wrapf(err, "unmarshalling [%s]", key)
	}
	return window.FromSlice(window.DefaultCapacity, items), nil
}
