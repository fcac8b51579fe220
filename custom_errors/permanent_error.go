package custom_errors

import "errors"

// PermanentError marks a handler failure that retrying cannot fix.
// The worker dead-letters such jobs on the first failure.
type PermanentError struct {
	Err error
}

func (p *PermanentError) Error() string {
	if p.Err == nil {
		return "permanent error"
	}
	return p.Err.Error()
}

func (p *PermanentError) Unwrap() error {
	return p.Err
}

// Permanent wraps err so the worker skips the retry schedule. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
