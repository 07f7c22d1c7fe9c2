package submission

import (
	"context"

	"github.com/pkg/errors"
	"github.com/qubic/go-offchain-worker/entities"
)

type Pool interface {
	SubmitUnsigned(ctx context.Context, call entities.Call) error
	SubmitSigned(ctx context.Context, extrinsic entities.Extrinsic) error
}

type Keyring interface {
	AnyAccount() (entities.Signer, error)
}

type NonceSource interface {
	Nonce(public []byte) (uint64, error)
}

// Gateway builds calls and hands them to the transaction pool using one of three strategies:
// signed (the signer pays the fee), unsigned (no proof of authorship) and unsigned with a signed
// payload (authorship is provable but nobody pays a fee).
type Gateway struct {
	pool    Pool
	keyring Keyring
	nonces  NonceSource
}

func NewGateway(pool Pool, keyring Keyring, nonces NonceSource) *Gateway {
	return &Gateway{
		pool:    pool,
		keyring: keyring,
		nonces:  nonces,
	}
}

func (g *Gateway) SubmitNumberSigned(ctx context.Context, number uint64) error {
	signer, err := g.keyring.AnyAccount()
	if err != nil {
		return err
	}

	public := signer.Public()
	nonce, err := g.nonces.Nonce(public)
	if err != nil {
		return errors.Wrap(err, "reading signer nonce")
	}
	call := entities.Call{Kind: entities.CallSubmitNumberSigned, Number: number, Nonce: nonce}
	signature, err := signer.Sign(entities.SigningDigest(call, public))
	if err != nil {
		return errors.Wrap(err, "signing extrinsic")
	}

	err = g.pool.SubmitSigned(ctx, entities.Extrinsic{Call: call, Signer: public, Signature: signature})
	if err != nil {
		return errors.Wrapf(entities.ErrSubmissionRejected, "signed [%s]: %v", call.Kind, err)
	}
	return nil
}

func (g *Gateway) SubmitNumberUnsigned(ctx context.Context, number uint64) error {
	call := entities.Call{Kind: entities.CallSubmitNumberUnsigned, Number: number}
	err := g.pool.SubmitUnsigned(ctx, call)
	if err != nil {
		return errors.Wrapf(entities.ErrSubmissionRejected, "unsigned [%s]: %v", call.Kind, err)
	}
	return nil
}

func (g *Gateway) SubmitNumberWithSignedPayload(ctx context.Context, number uint64) error {
	signer, err := g.keyring.AnyAccount()
	if err != nil {
		return err
	}

	payload := entities.NumberPayload{Number: number, Public: signer.Public()}
	signature, err := signer.Sign(payload.Encode())
	if err != nil {
		return errors.Wrap(err, "signing number payload")
	}

	return g.submitUnsigned(ctx, entities.Call{
		Kind:          entities.CallSubmitNumberUnsignedWithSignedPayload,
		NumberPayload: &payload,
		Signature:     signature,
	})
}

func (g *Gateway) SubmitPriceWithSignedPayload(ctx context.Context, price entities.PricePoint) error {
	signer, err := g.keyring.AnyAccount()
	if err != nil {
		return err
	}

	payload := entities.PricePayload{Price: price, Public: signer.Public()}
	signature, err := signer.Sign(payload.Encode())
	if err != nil {
		return errors.Wrap(err, "signing price payload")
	}

	return g.submitUnsigned(ctx, entities.Call{
		Kind:         entities.CallSubmitPriceUnsignedWithSignedPayload,
		PricePayload: &payload,
		Signature:    signature,
	})
}

func (g *Gateway) submitUnsigned(ctx context.Context, call entities.Call) error {
	err := g.pool.SubmitUnsigned(ctx, call)
	if err != nil {
		return errors.Wrapf(entities.ErrSubmissionRejected, "unsigned with signed payload [%s]: %v", call.Kind, err)
	}
	return nil
}
