package entities

type Task int

const (
	TaskFetchPrice Task = iota
	TaskSignedNumberSubmit
	TaskUnsignedNumberSubmit
	TaskUnsignedNumberSubmitSignedPayload
	TaskFetchMetadata

	// TaskCount is the number of tasks and doubles as the out of range sentinel.
	TaskCount
)

func (t Task) String() string {
	switch t {
	case TaskFetchPrice:
		return "fetch_price"
	case TaskSignedNumberSubmit:
		return "signed_number_submit"
	case TaskUnsignedNumberSubmit:
		return "unsigned_number_submit"
	case TaskUnsignedNumberSubmitSignedPayload:
		return "unsigned_number_submit_signed_payload"
	case TaskFetchMetadata:
		return "fetch_metadata"
	default:
		return "unknown"
	}
}
