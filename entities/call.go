package entities

import (
	"encoding/binary"
)

type CallKind string

const (
	CallSubmitNumberSigned                    CallKind = "submit_number_signed"
	CallSubmitNumberUnsigned                  CallKind = "submit_number_unsigned"
	CallSubmitNumberUnsignedWithSignedPayload CallKind = "submit_number_unsigned_with_signed_payload"
	CallSubmitPriceUnsignedWithSignedPayload  CallKind = "submit_price_unsigned_with_signed_payload"
)

// NumberPayload carries a number together with the public key of the identity that signed it.
type NumberPayload struct {
	Number uint64 `json:"number"`
	Public []byte `json:"public"`
}

// Encode returns the bytes the payload signature is computed over.
func (p NumberPayload) Encode() []byte {
	buf := make([]byte, 0, 8+len(p.Public))
	buf = binary.LittleEndian.AppendUint64(buf, p.Number)
	return append(buf, p.Public...)
}

type PricePayload struct {
	Price  PricePoint `json:"price"`
	Public []byte     `json:"public"`
}

func (p PricePayload) Encode() []byte {
	buf := make([]byte, 0, 12+len(p.Public))
	buf = binary.LittleEndian.AppendUint64(buf, p.Price.Integer)
	buf = binary.LittleEndian.AppendUint32(buf, p.Price.Fraction)
	return append(buf, p.Public...)
}

// Call is a state transition call. Kind decides which of the remaining fields are meaningful.
type Call struct {
	Kind          CallKind       `json:"kind"`
	Number        uint64         `json:"number,omitempty"`
	Nonce         uint64         `json:"nonce,omitempty"` // signed calls only
	NumberPayload *NumberPayload `json:"numberPayload,omitempty"`
	PricePayload  *PricePayload  `json:"pricePayload,omitempty"`
	Signature     []byte         `json:"signature,omitempty"` // payload signature
}

// Extrinsic is a call as it travels through the pool. Signer is nil for unsigned extrinsics.
type Extrinsic struct {
	Call      Call   `json:"call"`
	Signer    []byte `json:"signer,omitempty"`
	Signature []byte `json:"signature,omitempty"`
}

func (e Extrinsic) IsSigned() bool {
	return len(e.Signer) > 0
}

// SigningDigest returns the bytes a signed extrinsic's signature covers. The signer's nonce makes
// every signed extrinsic valid for a single application only.
func SigningDigest(call Call, signer []byte) []byte {
	buf := make([]byte, 0, len(call.Kind)+17+len(signer))
	buf = append(buf, call.Kind...)
	buf = append(buf, 0x00)
	buf = binary.LittleEndian.AppendUint64(buf, call.Number)
	buf = binary.LittleEndian.AppendUint64(buf, call.Nonce)
	return append(buf, signer...)
}

type TransactionSource int

const (
	SourceLocal TransactionSource = iota
	SourceInBlock
	SourceExternal
)

// ValidTransaction is the admission decision for a valid transaction.
type ValidTransaction struct {
	Priority  uint64
	Provides  []string
	Longevity uint64
	Propagate bool
}
