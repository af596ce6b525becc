package model

import "errors"

// errInvalid wraps a short, locally-obvious message for invariant
// violations raised from within the model package.
func errInvalid(msg string) error { return errors.New(msg) }
