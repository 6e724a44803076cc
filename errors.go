package dynstruct

import (
	"fmt"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/dynstruct/heap"
)

// ErrReleased is the panic value (wrapped with a stack) raised when a handle is used after Free, or
// after ownership moved to another handle through Transmute or MoreUnsafeTransmute
var ErrReleased = cerrors.New("dynstruct: handle was already freed or moved")

// AllocationError is the panic value raised when the allocator cannot provide memory for a
// composite. Running out of memory is not recoverable through the constructor's return values.
type AllocationError struct {
	Request heap.Request
	Err     error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("dynstruct: failed to allocate %d bytes at alignment %d: %v", e.Request.Size, e.Request.Align, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

func panicReleased() {
	panic(cerrors.WithStack(ErrReleased))
}
