package model

import "errors"

var (
	// ErrConfigMismatch reports a configuration or parameter shape that the
	// model cannot accept.
	ErrConfigMismatch = errors.New("config mismatch")
	// ErrSequenceTooLong reports an input longer than the model's block size.
	ErrSequenceTooLong = errors.New("sequence too long")
	// ErrInvalidSamplingParameter reports a temperature or top-k outside its valid range.
	ErrInvalidSamplingParameter = errors.New("invalid sampling parameter")
	// ErrTokenOutOfRange reports a token id outside [0, VocabSize).
	ErrTokenOutOfRange = errors.New("token id out of range")
)
