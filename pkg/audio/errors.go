package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFormat is returned when a rate/channel combination or a
	// payload layout is not supported. It is fatal to the call only.
	ErrInvalidFormat = errors.New("invalid audio format")

	// ErrBufferOverflow is returned by a backpressure buffer that could not
	// take the whole write.
	ErrBufferOverflow = errors.New("audio buffer overflow")
)

// FormatError describes why a format or payload was rejected.
type FormatError struct {
	Format Format
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrInvalidFormat, e.Reason, e.Format)
}

func (e *FormatError) Unwrap() error {
	return ErrInvalidFormat
}
