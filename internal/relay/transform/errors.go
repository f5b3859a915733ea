package transform

import (
	"errors"
	"fmt"
)

// ErrUnchanged is returned by media providers when the settings leave the
// input untouched.
var ErrUnchanged = errors.New("transform: unchanged")

// ErrMediaTooLarge is returned by fetchers when the media exceeds the download limit.
var ErrMediaTooLarge = errors.New("media exceeds size limit")

// TransformError wraps a failed pipeline step. Permanent marks failures that
// would repeat on every retry with the same input.
type TransformError struct {
	Step      string
	Err       error
	Permanent bool
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Step, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

func stepError(step string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransformError
	if errors.As(err, &te) {
		return err
	}
	return &TransformError{Step: step, Err: err}
}

func permanentError(step string, err error) error {
	return &TransformError{Step: step, Err: err, Permanent: true}
}

// IsPermanent reports whether retrying the transform cannot succeed.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrMediaTooLarge) {
		return true
	}
	var te *TransformError
	return errors.As(err, &te) && te.Permanent
}
