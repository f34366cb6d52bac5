package engine

import (
	"math/rand/v2"
	"sync/atomic"

	"nano-gpt-go/model"
)

// SequenceStatus represents the status of a sequence
type SequenceStatus int

const (
	StatusWaiting SequenceStatus = iota
	StatusRunning
	StatusFinished
)

func (s SequenceStatus) String() string {
	switch s {
	case StatusWaiting:
		return "WAITING"
	case StatusRunning:
		return "RUNNING"
	case StatusFinished:
		return "FINISHED"
	}
	return "UNKNOWN"
}

// FinishReason says why a sequence stopped
type FinishReason string

const (
	FinishNone   FinishReason = ""
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
)

// Sequence is one prompt and the tokens sampled for it so far
type Sequence struct {
	SeqID           int64
	Index           int
	Status          SequenceStatus
	TokenIDs        []int
	NumPromptTokens int
	MaxTokens       int
	Params          model.SamplingParams
	Rand            *rand.Rand
	FinishReason    FinishReason
}

var seqCounter int64

// NewSequence copies tokenIDs and gives the sequence a fresh SeqID
func NewSequence(index int, tokenIDs []int, maxTokens int, params model.SamplingParams, rng *rand.Rand) *Sequence {
	return &Sequence{
		SeqID:           atomic.AddInt64(&seqCounter, 1) - 1,
		Index:           index,
		Status:          StatusWaiting,
		TokenIDs:        append([]int(nil), tokenIDs...),
		NumPromptTokens: len(tokenIDs),
		MaxTokens:       maxTokens,
		Params:          params,
		Rand:            rng,
	}
}

// Len returns the number of tokens in the sequence
func (s *Sequence) Len() int {
	return len(s.TokenIDs)
}

// LastToken returns the most recent token, or -1 for an empty sequence
func (s *Sequence) LastToken() int {
	if len(s.TokenIDs) == 0 {
		return -1
	}
	return s.TokenIDs[len(s.TokenIDs)-1]
}

// NumCompletionTokens returns the number of sampled tokens
func (s *Sequence) NumCompletionTokens() int {
	return len(s.TokenIDs) - s.NumPromptTokens
}

// PromptTokenIDs returns the prompt tokens
func (s *Sequence) PromptTokenIDs() []int {
	return s.TokenIDs[:s.NumPromptTokens]
}

// CompletionTokenIDs returns the sampled tokens
func (s *Sequence) CompletionTokenIDs() []int {
	return s.TokenIDs[s.NumPromptTokens:]
}

// AppendToken adds a sampled token
func (s *Sequence) AppendToken(tokenID int) {
	s.TokenIDs = append(s.TokenIDs, tokenID)
}

// IsFinished reports whether the sequence has stopped
func (s *Sequence) IsFinished() bool {
	return s.Status == StatusFinished
}
