package conversation

import (
	"iter"
	"sync"
	"time"

	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
)

// Store owns the append-only turn log and the current emotion of the session.
type Store struct {
	mu             sync.RWMutex
	turns          []conversation.Turn
	lastID         int64
	currentEmotion conversation.Emotion
	startedAt      time.Time
	now            func() time.Time
}

// NewStore starts an empty log. A nil clock defaults to time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		turns:          make([]conversation.Turn, 0, 16),
		currentEmotion: conversation.Neutral,
		startedAt:      now().UTC(),
		now:            now,
	}
}

// AppendTurn commits a turn, assigning its ID and, when unset, its timestamp.
// IDs keep increasing across Clear so they stay unique for the whole session.
func (s *Store) AppendTurn(turn conversation.Turn) conversation.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	turn.ID = s.lastID
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now().UTC()
	}

	s.turns = append(s.turns, turn)
	return turn
}

// Clear empties the log and restarts the session clock.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A fresh backing array keeps views taken before Clear intact.
	s.turns = make([]conversation.Turn, 0, 16)
	s.currentEmotion = conversation.Neutral
	s.startedAt = s.now().UTC()
}

// CurrentEmotion returns the latest observed emotion tag.
func (s *Store) CurrentEmotion() conversation.Emotion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentEmotion
}

// SetCurrentEmotion records an observed emotion and reports whether it changed.
func (s *Store) SetCurrentEmotion(emotion conversation.Emotion) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentEmotion == emotion {
		return false
	}
	s.currentEmotion = emotion
	return true
}

// Len returns the number of committed turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// StartedAt returns when the current session log began.
func (s *Store) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// Turns returns a copy of the log in conversation order.
func (s *Store) Turns() []conversation.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]conversation.Turn, len(s.turns))
	copy(copied, s.turns)
	return copied
}

// Filter returns a lazy view over the turns committed so far.
// Evaluation happens on iteration; the log itself is never touched.
func (s *Store) Filter(predicate conversation.Predicate) View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.turns)
	return View{turns: s.turns[:n:n], predicate: predicate}
}

// Statistics derives session statistics from the current log.
func (s *Store) Statistics() conversation.Statistics {
	s.mu.RLock()
	turns := s.turns[:len(s.turns):len(s.turns)]
	startedAt := s.startedAt
	s.mu.RUnlock()

	return conversation.Summarize(turns, startedAt, s.now().UTC())
}

// View is a read-only, lazily filtered window over the log.
type View struct {
	turns     []conversation.Turn
	predicate conversation.Predicate
}

// All yields matching turns in conversation order.
func (v View) All() iter.Seq[conversation.Turn] {
	return func(yield func(conversation.Turn) bool) {
		for _, turn := range v.turns {
			if v.predicate != nil && !v.predicate(turn) {
				continue
			}
			if !yield(turn) {
				return
			}
		}
	}
}

// Collect materializes the view.
func (v View) Collect() []conversation.Turn {
	matched := make([]conversation.Turn, 0, len(v.turns))
	for turn := range v.All() {
		matched = append(matched, turn)
	}
	return matched
}

// Count returns how many turns match without materializing them.
func (v View) Count() int {
	count := 0
	for range v.All() {
		count++
	}
	return count
}
