package protocol

import "errors"

var (
	// ErrEmptyCommand indicates that an empty command mnemonic was given to the encoder.
	ErrEmptyCommand = errors.New("empty command mnemonic")

	// ErrMissingParam indicates that a reply does not carry the expected parameter.
	ErrMissingParam = errors.New("missing reply parameter")
)
