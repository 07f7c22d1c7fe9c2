package dispatch

import (
	"math"

	"github.com/pkg/errors"
	"github.com/qubic/go-offchain-worker/entities"
)

var tasks = [entities.TaskCount]entities.Task{
	0: entities.TaskFetchPrice,
	1: entities.TaskSignedNumberSubmit,
	2: entities.TaskUnsignedNumberSubmit,
	3: entities.TaskUnsignedNumberSubmitSignedPayload,
	4: entities.TaskFetchMetadata,
}

// Select maps an invocation ordinal (the block number) to the task to run. Ordinals that do not
// fit into uint32 are clamped to the TaskCount sentinel and rejected.
func Select(ordinal uint64) (entities.Task, error) {
	slot := uint32(entities.TaskCount)
	if ordinal <= math.MaxUint32 {
		slot = uint32(ordinal) % uint32(entities.TaskCount)
	}
	if slot >= uint32(entities.TaskCount) {
		return entities.TaskCount, errors.Wrapf(entities.ErrUnknownTask, "ordinal [%d]", ordinal)
	}
	return tasks[slot], nil
}
