package entities

// Signer is a local signing identity.
type Signer interface {
	Public() []byte
	Sign(message []byte) ([]byte, error)
}
