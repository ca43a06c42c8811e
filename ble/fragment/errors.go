package fragment

import "errors"

var (
	errEmptyFragment          = errors.New("fragment: empty raw buffer from transport")
	errUnexpectedContinuation = errors.New("fragment: continuation fragment with no in-progress message")
	errUnexpectedEnd          = errors.New("fragment: end fragment with no in-progress message")
)
