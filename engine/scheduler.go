package engine

import "container/list"

// Scheduler moves sequences from the waiting queue into a bounded running set
// and retires them once they finish.
type Scheduler struct {
	maxNumSeqs int
	eos        int
	ignoreEOS  bool
	waiting    *list.List
	running    *list.List
}

// NewScheduler creates a new scheduler
func NewScheduler(config *Config) *Scheduler {
	return &Scheduler{
		maxNumSeqs: config.MaxNumSeqs,
		eos:        config.EOS,
		ignoreEOS:  config.IgnoreEOS,
		waiting:    list.New(),
		running:    list.New(),
	}
}

// IsFinished returns true if there are no more sequences to process
func (s *Scheduler) IsFinished() bool {
	return s.waiting.Len() == 0 && s.running.Len() == 0
}

// Add adds a sequence to the waiting queue. A sequence with no token budget
// finishes immediately.
func (s *Scheduler) Add(seq *Sequence) {
	if seq.MaxTokens == 0 {
		seq.Status = StatusFinished
		seq.FinishReason = FinishLength
		return
	}
	s.waiting.PushBack(seq)
}

// Schedule admits waiting sequences while there is room and returns every
// running sequence in admission order.
func (s *Scheduler) Schedule() []*Sequence {
	for s.waiting.Len() > 0 && s.running.Len() < s.maxNumSeqs {
		elem := s.waiting.Front()
		seq := elem.Value.(*Sequence)
		s.waiting.Remove(elem)
		seq.Status = StatusRunning
		s.running.PushBack(seq)
	}

	scheduled := make([]*Sequence, 0, s.running.Len())
	for elem := s.running.Front(); elem != nil; elem = elem.Next() {
		scheduled = append(scheduled, elem.Value.(*Sequence))
	}
	return scheduled
}

// Postprocess appends the sampled tokens and returns the sequences that
// finished in this step.
func (s *Scheduler) Postprocess(seqs []*Sequence, tokenIDs []int) []*Sequence {
	var finished []*Sequence
	for i, seq := range seqs {
		tokenID := tokenIDs[i]
		seq.AppendToken(tokenID)

		switch {
		case !s.ignoreEOS && s.eos >= 0 && tokenID == s.eos:
			seq.FinishReason = FinishStop
		case seq.NumCompletionTokens() >= seq.MaxTokens:
			seq.FinishReason = FinishLength
		default:
			continue
		}
		seq.Status = StatusFinished
		finished = append(finished, seq)
		for elem := s.running.Front(); elem != nil; elem = elem.Next() {
			if elem.Value.(*Sequence).SeqID == seq.SeqID {
				s.running.Remove(elem)
				break
			}
		}
	}
	return finished
}
