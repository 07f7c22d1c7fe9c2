package txpool

import (
	"context"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"github.com/qubic/go-offchain-worker/entities"
)

type Validator interface {
	Validate(source entities.TransactionSource, call entities.Call) (entities.ValidTransaction, error)
}

type SignatureVerifier func(public, message, signature []byte) bool

type Config struct {
	Capacity        int
	BlockInterval   time.Duration // wall clock length of one block, used to turn longevity into a ttl
	SignedLongevity uint64        // blocks a signed extrinsic is remembered for duplicate rejection
}

type pending struct {
	extrinsic entities.Extrinsic
	priority  uint64
}

// Pool holds admitted extrinsics until the next block drains them. Tags provided by an admitted
// unsigned call block any other call providing the same tag for the call's longevity.
type Pool struct {
	validator Validator
	verify    SignatureVerifier
	config    Config
	tags      *ttlcache.Cache[string, entities.CallKind]

	mutex   sync.Mutex
	pending []pending
}

func NewPool(validator Validator, verify SignatureVerifier, config Config) *Pool {
	tags := ttlcache.New[string, entities.CallKind](
		ttlcache.WithDisableTouchOnHit[string, entities.CallKind](), // don't refresh ttl upon lookup
	)
	go tags.Start()

	return &Pool{
		validator: validator,
		verify:    verify,
		config:    config,
		tags:      tags,
	}
}

// Validate runs the admission predicate without touching the pool.
func (p *Pool) Validate(call entities.Call) (entities.ValidTransaction, error) {
	return p.validator.Validate(entities.SourceLocal, call)
}

func (p *Pool) SubmitUnsigned(_ context.Context, call entities.Call) error {
	valid, err := p.validator.Validate(entities.SourceLocal, call)
	if err != nil {
		return err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err := p.checkCapacity(); err != nil {
		return err
	}
	for _, tag := range valid.Provides {
		item := p.tags.Get(tag)
		if item != nil && !item.IsExpired() {
			return errors.Wrapf(entities.ErrDuplicateTag, "[%s]", tag)
		}
	}

	ttl := time.Duration(valid.Longevity) * p.config.BlockInterval
	for _, tag := range valid.Provides {
		p.tags.Set(tag, call.Kind, ttl)
	}
	p.pending = append(p.pending, pending{
		extrinsic: entities.Extrinsic{Call: call},
		priority:  valid.Priority,
	})
	return nil
}

// SubmitSigned admits an extrinsic whose signature over the signing digest matches its signer. An
// extrinsic seen before within the signed longevity is rejected.
func (p *Pool) SubmitSigned(_ context.Context, extrinsic entities.Extrinsic) error {
	if !extrinsic.IsSigned() {
		return errors.Wrap(entities.ErrBadOrigin, "signed submission without signer")
	}
	digest := entities.SigningDigest(extrinsic.Call, extrinsic.Signer)
	if !p.verify(extrinsic.Signer, digest, extrinsic.Signature) {
		return errors.Wrapf(entities.ErrBadSignature, "signed [%s]", extrinsic.Call.Kind)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err := p.checkCapacity(); err != nil {
		return err
	}
	key := "signed/" + hex.EncodeToString(digest)
	item := p.tags.Get(key)
	if item != nil && !item.IsExpired() {
		return errors.Wrapf(entities.ErrDuplicate, "signed [%s] nonce [%d]", extrinsic.Call.Kind, extrinsic.Call.Nonce)
	}

	p.tags.Set(key, extrinsic.Call.Kind, time.Duration(p.config.SignedLongevity)*p.config.BlockInterval)
	p.pending = append(p.pending, pending{extrinsic: extrinsic})
	return nil
}

// Drain removes and returns all pending extrinsics, highest priority first.
func (p *Pool) Drain() []entities.Extrinsic {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	sort.SliceStable(p.pending, func(i, j int) bool { return p.pending[i].priority > p.pending[j].priority })
	extrinsics := make([]entities.Extrinsic, 0, len(p.pending))
	for _, pe := range p.pending {
		extrinsics = append(extrinsics, pe.extrinsic)
	}
	p.pending = nil
	return extrinsics
}

func (p *Pool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.pending)
}

func (p *Pool) Close() {
	p.tags.Stop()
}

func (p *Pool) checkCapacity() error {
	if p.config.Capacity > 0 && len(p.pending) >= p.config.Capacity {
		return errors.Wrapf(entities.ErrPoolFull, "capacity [%d]", p.config.Capacity)
	}
	return nil
}
