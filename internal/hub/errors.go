package hub

import "errors"

var (
	ErrNilHandler           = errors.New("handler is nil")
	ErrHandlerNotComparable = errors.New("handler type is not comparable; register a pointer")
)
