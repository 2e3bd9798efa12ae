// Package errors wraps github.com/pkg/errors and adds fatal and
// precondition errors.
package errors

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// New creates a new error based on message. Wrapped so that this package does
// not appear in the stack trace.
var New = errors.New

// Errorf creates an error based on a format string and values.
var Errorf = errors.Errorf

// Wrap annotates err with message, usually the name of the failed call. If
// err is nil, Wrap returns nil.
var Wrap = errors.Wrap

// Wrapf annotates err with the format specifier. If err is nil, Wrapf
// returns nil.
var Wrapf = errors.Wrapf

// As finds the first error in err's tree that matches target.
func As(err error, tgt interface{}) bool { return stderrors.As(err, tgt) }

// Is reports whether any error in err's tree matches target. Sentinels such
// as raster.ErrBlockNotFound survive Wrap.
func Is(x, y error) bool { return stderrors.Is(x, y) }

// Join returns an error that wraps the given errors, nil errors are discarded.
func Join(errs ...error) error { return stderrors.Join(errs...) }
