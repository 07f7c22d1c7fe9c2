package submission

import (
	"github.com/pkg/errors"
	"github.com/qubic/go-offchain-worker/entities"
)

const (
	DefaultTagPrefix = "ocw-demo"
	DefaultPriority  = 100
	DefaultLongevity = 3
)

// SignatureVerifier reports whether signature was produced over message by public.
type SignatureVerifier func(public, message, signature []byte) bool

// Validator is the admission predicate for unsigned calls. It never mutates state.
type Validator struct {
	tagPrefix string
	priority  uint64
	longevity uint64
	verify    SignatureVerifier
}

func NewValidator(tagPrefix string, priority, longevity uint64, verify SignatureVerifier) *Validator {
	return &Validator{
		tagPrefix: tagPrefix,
		priority:  priority,
		longevity: longevity,
		verify:    verify,
	}
}

func (v *Validator) Validate(_ entities.TransactionSource, call entities.Call) (entities.ValidTransaction, error) {
	switch call.Kind {
	case entities.CallSubmitNumberUnsigned:
		// no proof of authenticity, admitted on the tag alone
		return v.valid(call.Kind), nil

	case entities.CallSubmitNumberUnsignedWithSignedPayload:
		if call.NumberPayload == nil {
			return entities.ValidTransaction{}, errors.Wrapf(entities.ErrUnsupportedCall, "[%s] without payload", call.Kind)
		}
		if !v.verify(call.NumberPayload.Public, call.NumberPayload.Encode(), call.Signature) {
			return entities.ValidTransaction{}, errors.Wrapf(entities.ErrBadSignature, "[%s]", call.Kind)
		}
		return v.valid(call.Kind), nil

	case entities.CallSubmitPriceUnsignedWithSignedPayload:
		if call.PricePayload == nil {
			return entities.ValidTransaction{}, errors.Wrapf(entities.ErrUnsupportedCall, "[%s] without payload", call.Kind)
		}
		if !v.verify(call.PricePayload.Public, call.PricePayload.Encode(), call.Signature) {
			return entities.ValidTransaction{}, errors.Wrapf(entities.ErrBadSignature, "[%s]", call.Kind)
		}
		return v.valid(call.Kind), nil

	default:
		return entities.ValidTransaction{}, errors.Wrapf(entities.ErrUnsupportedCall, "[%s]", call.Kind)
	}
}

func (v *Validator) valid(kind entities.CallKind) entities.ValidTransaction {
	return entities.ValidTransaction{
		Priority:  v.priority,
		Provides:  []string{v.tagPrefix + string(kind)},
		Longevity: v.longevity,
		Propagate: true,
	}
}
