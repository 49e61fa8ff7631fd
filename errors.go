package digitizer

import "errors"

var (
	// ErrInputNotFound is returned when the input document does not exist.
	ErrInputNotFound = errors.New("digitizer: input document not found")

	// ErrUnsupportedFormat is returned for document formats the converter
	// cannot handle.
	ErrUnsupportedFormat = errors.New("digitizer: unsupported document format")

	// ErrConversionFailed is returned when the external converter produces
	// no usable markup. There is no fallback for this stage: the job aborts.
	ErrConversionFailed = errors.New("digitizer: document conversion failed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("digitizer: invalid configuration")
)
