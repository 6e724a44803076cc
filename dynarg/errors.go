package dynarg

import (
	cerrors "github.com/cockroachdb/errors"
)

// ErrConsumed is the panic value (wrapped with a stack) raised when a DynArg is used after it has been
// written into its destination or converted into another DynArg
var ErrConsumed = cerrors.New("dynarg: wrapper was already consumed")

func panicConsumed() {
	panic(cerrors.WithStack(ErrConsumed))
}
