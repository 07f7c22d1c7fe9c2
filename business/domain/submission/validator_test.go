package submission

import (
	"testing"

	"github.com/qubic/go-offchain-worker/entities"
	"github.com/qubic/go-offchain-worker/infrastructure/keystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator() *Validator {
	return NewValidator(DefaultTagPrefix, DefaultPriority, DefaultLongevity, keystore.Verify)
}

func signedNumberCall(t *testing.T, account *keystore.Account, number uint64) entities.Call {
	payload := entities.NumberPayload{Number: number, Public: account.Public()}
	signature, err := account.Sign(payload.Encode())
	require.NoError(t, err)
	return entities.Call{
		Kind:          entities.CallSubmitNumberUnsignedWithSignedPayload,
		NumberPayload: &payload,
		Signature:     signature,
	}
}

func signedPriceCall(t *testing.T, account *keystore.Account, price entities.PricePoint) entities.Call {
	payload := entities.PricePayload{Price: price, Public: account.Public()}
	signature, err := account.Sign(payload.Encode())
	require.NoError(t, err)
	return entities.Call{
		Kind:         entities.CallSubmitPriceUnsignedWithSignedPayload,
		PricePayload: &payload,
		Signature:    signature,
	}
}

func TestValidator_Validate_unsignedNumber(t *testing.T) {
	valid, err := newTestValidator().Validate(entities.SourceLocal, entities.Call{Kind: entities.CallSubmitNumberUnsigned, Number: 7})
	require.NoError(t, err)
	assert.Equal(t, entities.ValidTransaction{
		Priority:  100,
		Provides:  []string{"ocw-demosubmit_number_unsigned"},
		Longevity: 3,
		Propagate: true,
	}, valid)
}

func TestValidator_Validate_numberWithSignedPayload(t *testing.T) {
	account, err := keystore.NewKeyring().Generate()
	require.NoError(t, err)
	call := signedNumberCall(t, account, 42)

	valid, err := newTestValidator().Validate(entities.SourceExternal, call)
	require.NoError(t, err)
	assert.Equal(t, []string{"ocw-demosubmit_number_unsigned_with_signed_payload"}, valid.Provides)
	assert.Equal(t, 100, int(valid.Priority))
	assert.Equal(t, 3, int(valid.Longevity))

	call.Signature[3] ^= 0xff
	_, err = newTestValidator().Validate(entities.SourceExternal, call)
	assert.ErrorIs(t, err, entities.ErrBadSignature)
}

func TestValidator_Validate_priceWithSignedPayload(t *testing.T) {
	account, err := keystore.NewKeyring().Generate()
	require.NoError(t, err)
	call := signedPriceCall(t, account, entities.PricePoint{Integer: 6, Fraction: 123456})

	valid, err := newTestValidator().Validate(entities.SourceLocal, call)
	require.NoError(t, err)
	assert.Equal(t, []string{"ocw-demosubmit_price_unsigned_with_signed_payload"}, valid.Provides)

	// payload changed after signing
	call.PricePayload.Price.Fraction = 123457
	_, err = newTestValidator().Validate(entities.SourceLocal, call)
	assert.ErrorIs(t, err, entities.ErrBadSignature)
}

func TestValidator_Validate_givenPayloadSignedByOtherKey_thenBadSignature(t *testing.T) {
	kr := keystore.NewKeyring()
	signer, err := kr.Generate()
	require.NoError(t, err)
	other, err := kr.Generate()
	require.NoError(t, err)

	call := signedNumberCall(t, signer, 1)
	call.NumberPayload.Public = other.Public()
	_, err = newTestValidator().Validate(entities.SourceLocal, call)
	assert.ErrorIs(t, err, entities.ErrBadSignature)
}

func TestValidator_Validate_unsupportedCalls(t *testing.T) {
	testData := []entities.Call{
		{Kind: entities.CallSubmitNumberSigned, Number: 1},
		{Kind: "submit_price_unsigned"},
		{Kind: entities.CallSubmitNumberUnsignedWithSignedPayload},
		{Kind: entities.CallSubmitPriceUnsignedWithSignedPayload},
	}
	for _, call := range testData {
		_, err := newTestValidator().Validate(entities.SourceLocal, call)
		assert.ErrorIs(t, err, entities.ErrUnsupportedCall, string(call.Kind))
	}
}
