package entities

type EventKind string

const (
	EventNewNumber EventKind = "NewNumber"
	EventNewPrice  EventKind = "NewPrice"
)

// Event is emitted by the runtime after a successful state transition.
// Submitter is empty when the submission was not attributed to an identity.
type Event struct {
	Block     uint64      `json:"block"`
	Kind      EventKind   `json:"kind"`
	Submitter []byte      `json:"submitter,omitempty"`
	Number    *uint64     `json:"number,omitempty"`
	Price     *PricePoint `json:"price,omitempty"`
}
