package poll

import "sync"

// Sequencer numbers outgoing fetches and accepts responses newest-issued-wins:
// once a response has been applied, nothing issued before it may be applied.
type Sequencer struct {
	mu       sync.Mutex
	issued   uint64
	accepted uint64
}

// Next issues the number for a new fetch.
func (s *Sequencer) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// Accept records seq as applied when it is newer than every applied response.
func (s *Sequencer) Accept(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq == 0 || seq <= s.accepted || seq > s.issued {
		return false
	}
	s.accepted = seq
	return true
}

// Current reports whether a response for seq would still be accepted. Failed
// fetches check this without moving the accepted mark.
func (s *Sequencer) Current(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return seq != 0 && seq > s.accepted && seq <= s.issued
}

// Latest is the most recently issued sequence number.
func (s *Sequencer) Latest() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued
}

// Invalidate rejects everything issued so far.
func (s *Sequencer) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted = s.issued
}
