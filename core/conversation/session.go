package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/koscakluka/ada-core/core/llms"
)

// TurnStatus is the terminal-state marker of a recorded turn.
type TurnStatus string

const (
	// TurnPending marks an assistant turn whose reply is still being
	// generated.
	TurnPending   TurnStatus = "pending"
	TurnCompleted TurnStatus = "completed"
	TurnAborted   TurnStatus = "aborted"
)

// Turn is one unit of dialogue exchange in the session log.
type Turn struct {
	// ID is monotonically increasing within the session.
	ID        uint64
	Role      llms.Role
	Content   string
	Grounding []string
	Status    TurnStatus
	CreatedAt time.Time
}

var (
	ErrTurnInFlight  = errors.New("previous assistant turn has not reached a terminal state")
	ErrNoPendingTurn = errors.New("no pending assistant turn")
)

// Session owns the append-only, strictly alternating turn log. Exactly one
// session is active at a time; the conversation handler is its only
// writer.
type Session struct {
	mu         sync.RWMutex
	id         string
	nextTurnID uint64
	turns      []Turn
}

func NewSession() *Session {
	return &Session{id: uuid.NewString()}
}

func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// AppendUser appends a user turn. It fails with ErrTurnInFlight while the
// previous assistant turn is still pending, enforcing strict alternation.
func (s *Session) AppendUser(content string, grounding []string) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last := s.last(); last != nil && last.Status == TurnPending {
		return Turn{}, ErrTurnInFlight
	}

	turn := s.append(llms.RoleUser, content, grounding, TurnCompleted)
	return turn, nil
}

// BeginAssistant opens a pending assistant turn. It requires the latest
// turn to be a user turn.
func (s *Session) BeginAssistant() (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.last()
	if last == nil || last.Role != llms.RoleUser {
		return Turn{}, fmt.Errorf("assistant turn requires a preceding user turn")
	}
	if last.Status == TurnPending {
		return Turn{}, ErrTurnInFlight
	}

	turn := s.append(llms.RoleAssistant, "", nil, TurnPending)
	return turn, nil
}

// Complete finalizes the pending assistant turn with the generated reply.
func (s *Session) Complete(turnID uint64, content string) error {
	return s.finalize(turnID, func(turn *Turn) {
		turn.Content = content
		turn.Status = TurnCompleted
	})
}

// Abort finalizes the pending assistant turn after a failed or cancelled
// generation. The reason is kept as the turn content for inspection.
func (s *Session) Abort(turnID uint64, reason string) error {
	return s.finalize(turnID, func(turn *Turn) {
		turn.Content = reason
		turn.Status = TurnAborted
	})
}

// History returns up to window most recent terminal turns as model
// dialogue, oldest first. Pending and aborted turns are excluded.
func (s *Session) History(window int) []llms.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]llms.Turn, 0, window)
	for i := len(s.turns) - 1; i >= 0 && len(history) < window; i-- {
		turn := s.turns[i]
		if turn.Status != TurnCompleted {
			continue
		}
		history = append(history, llms.Turn{Role: turn.Role, Content: turn.Content})
	}

	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history
}

// Turns returns a deep copy of the full turn log.
func (s *Session) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var turns []Turn
	if err := copier.CopyWithOption(&turns, s.turns, copier.Option{DeepCopy: true}); err != nil {
		turns = append([]Turn(nil), s.turns...)
	}
	return turns
}

// Reset discards the turn log and starts a fresh session.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.id = uuid.NewString()
	s.nextTurnID = 0
	s.turns = nil
}

func (s *Session) last() *Turn {
	if len(s.turns) == 0 {
		return nil
	}
	return &s.turns[len(s.turns)-1]
}

func (s *Session) append(role llms.Role, content string, grounding []string, status TurnStatus) Turn {
	s.nextTurnID++
	turn := Turn{
		ID:        s.nextTurnID,
		Role:      role,
		Content:   content,
		Grounding: grounding,
		Status:    status,
		CreatedAt: time.Now(),
	}
	s.turns = append(s.turns, turn)
	return turn
}

func (s *Session) finalize(turnID uint64, update func(*Turn)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.last()
	if last == nil || last.Role != llms.RoleAssistant || last.Status != TurnPending {
		return ErrNoPendingTurn
	}
	if last.ID != turnID {
		return fmt.Errorf("pending turn is %d, not %d", last.ID, turnID)
	}

	update(last)
	return nil
}
