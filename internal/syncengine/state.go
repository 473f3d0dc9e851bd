package syncengine

import (
	"cmp"
	"maps"
	"slices"
	"time"

	"github.com/ageniuscoder/chatsync/internal/models"
)

// DefaultTypingTTL is how long a peer stays "typing" without a refresh.
const DefaultTypingTTL = 5 * time.Second

// LocalMessage is a message as this client holds it.
type LocalMessage struct {
	models.Message
	// ReadAt is the newest read cursor of the author that covers this
	// message. It only moves forward.
	ReadAt *time.Time `json:"read_at"`
	// Pending marks an optimistic placeholder not yet confirmed by the server.
	Pending  bool   `json:"pending,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// State is the merged view of one conversation. Every Apply method is
// idempotent and independent of arrival order. State is not safe for
// concurrent use; Engine serialises access.
type State struct {
	ConversationID int64

	messages []LocalMessage // confirmed, ordered by created_at then id
	pending  []LocalMessage // placeholders, in send order
	deleted  map[int64]bool
	cursors  map[int64]time.Time // user id -> newest last_read_at seen
	typing   map[int64]time.Time // user id -> expiry
	online   map[int64]models.Member

	// arrived orders confirmed messages by when this client first held them
	// so a snapshot only prunes what it could have seen.
	arrived map[int64]uint64
	seq     uint64

	typingTTL time.Duration
	now       func() time.Time
}

func NewState(conversationID int64) *State {
	return &State{
		ConversationID: conversationID,
		deleted:        make(map[int64]bool),
		cursors:        make(map[int64]time.Time),
		typing:         make(map[int64]time.Time),
		online:         make(map[int64]models.Member),
		arrived:        make(map[int64]uint64),
		typingTTL:      DefaultTypingTTL,
		now:            time.Now,
	}
}

func compareMessages(a, b LocalMessage) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (s *State) index(id int64) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// readAt is the read marker m earns from the author's known cursor.
func (s *State) readAt(m models.Message) *time.Time {
	cur, ok := s.cursors[m.UserID]
	if !ok || !m.CreatedAt.Before(cur) {
		return nil
	}
	return &cur
}

// ApplyMessageCreated inserts m unless a message with its id is already
// held or was deleted.
func (s *State) ApplyMessageCreated(m models.Message) bool {
	if m.ConversationID != s.ConversationID || s.deleted[m.ID] || s.index(m.ID) >= 0 {
		return false
	}
	lm := LocalMessage{Message: m, ReadAt: s.readAt(m)}
	i, _ := slices.BinarySearchFunc(s.messages, lm, compareMessages)
	s.messages = slices.Insert(s.messages, i, lm)
	s.seq++
	s.arrived[m.ID] = s.seq
	return true
}

// ApplyMessageUpdated replaces a held message by id. Unknown ids are ignored
// and an older copy never overwrites a newer one.
func (s *State) ApplyMessageUpdated(m models.Message) bool {
	i := s.index(m.ID)
	if i < 0 || m.UpdatedAt.Before(s.messages[i].UpdatedAt) {
		return false
	}
	s.messages[i].Message = m
	return true
}

// ApplyMessageDeleted removes id and remembers it so late copies are dropped.
func (s *State) ApplyMessageDeleted(id int64) bool {
	s.deleted[id] = true
	delete(s.arrived, id)
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.messages = slices.Delete(s.messages, i, i+1)
	return true
}

// ApplyConversationRead advances the read markers of every message authored
// by p.UserID created before p.LastReadAt. Markers take the maximum cursor.
func (s *State) ApplyConversationRead(p models.Participant) bool {
	if p.LastReadAt == nil || (p.ConversationID != 0 && p.ConversationID != s.ConversationID) {
		return false
	}
	at := p.LastReadAt.UTC()
	if cur, ok := s.cursors[p.UserID]; !ok || at.After(cur) {
		s.cursors[p.UserID] = at
	}

	changed := false
	for i := range s.messages {
		m := &s.messages[i]
		if m.UserID != p.UserID || !m.CreatedAt.Before(at) {
			continue
		}
		if m.ReadAt == nil || at.After(*m.ReadAt) {
			v := at
			m.ReadAt = &v
			changed = true
		}
	}
	return changed
}

// Mark returns a position in the arrival order. Take it before fetching a
// snapshot and hand it to ApplySnapshot.
func (s *State) Mark() uint64 {
	return s.seq
}

// ApplySnapshot merges a REST page (newest page of the conversation) and the
// participants' read cursors. Held messages missing from the page but inside
// its time span were deleted while we were not listening, unless they
// arrived after mark, in which case the page was fetched before they existed.
func (s *State) ApplySnapshot(mark uint64, msgs []models.Message, participants []models.Participant) {
	if len(msgs) > 0 {
		seen := make(map[int64]bool, len(msgs))
		oldest, newest := msgs[0].CreatedAt, msgs[0].CreatedAt
		for _, m := range msgs {
			seen[m.ID] = true
			if m.CreatedAt.Before(oldest) {
				oldest = m.CreatedAt
			}
			if m.CreatedAt.After(newest) {
				newest = m.CreatedAt
			}
		}
		s.messages = slices.DeleteFunc(s.messages, func(m LocalMessage) bool {
			if seen[m.ID] || s.arrived[m.ID] > mark || m.CreatedAt.Before(oldest) || m.CreatedAt.After(newest) {
				return false
			}
			delete(s.arrived, m.ID)
			return true
		})
		for _, m := range msgs {
			if !s.ApplyMessageCreated(m) {
				s.ApplyMessageUpdated(m)
			}
		}
	}
	for _, p := range participants {
		s.ApplyConversationRead(p)
	}
}

// AddPending appends an optimistic placeholder for a message being sent.
func (s *State) AddPending(clientID string, author int64, content string, at time.Time) LocalMessage {
	lm := LocalMessage{
		Message: models.Message{
			ConversationID: s.ConversationID,
			UserID:         author,
			CreatedAt:      at,
			UpdatedAt:      at,
		},
		Pending:  true,
		ClientID: clientID,
	}
	if content != "" {
		c := content
		lm.Content = &c
	}
	s.pending = append(s.pending, lm)
	return lm
}

// ResolvePending drops the placeholder for clientID and, on success, merges
// the confirmed message by id.
func (s *State) ResolvePending(clientID string, confirmed *models.Message) {
	s.pending = slices.DeleteFunc(s.pending, func(m LocalMessage) bool { return m.ClientID == clientID })
	if confirmed != nil {
		s.ApplyMessageCreated(*confirmed)
	}
}

// ApplyTyping records a peer's typing signal.
func (s *State) ApplyTyping(userID int64, isTyping bool) bool {
	_, was := s.typing[userID]
	if !isTyping {
		delete(s.typing, userID)
		return was
	}
	s.typing[userID] = s.now().Add(s.typingTTL)
	return !was
}

func (s *State) ApplyRoster(members []models.Member) {
	clear(s.online)
	for _, m := range members {
		s.online[m.ID] = m
	}
}

func (s *State) ApplyMemberAdded(m models.Member) bool {
	_, ok := s.online[m.ID]
	s.online[m.ID] = m
	return !ok
}

func (s *State) ApplyMemberRemoved(m models.Member) bool {
	_, ok := s.online[m.ID]
	delete(s.online, m.ID)
	if ok {
		delete(s.typing, m.ID)
	}
	return ok
}

// Messages returns confirmed messages in canonical order followed by
// pending placeholders.
func (s *State) Messages() []LocalMessage {
	out := make([]LocalMessage, 0, len(s.messages)+len(s.pending))
	out = append(out, s.messages...)
	return append(out, s.pending...)
}

// ExpireTyping drops typing entries past their expiry and reports whether
// any were dropped.
func (s *State) ExpireTyping() bool {
	now := s.now()
	n := len(s.typing)
	maps.DeleteFunc(s.typing, func(_ int64, exp time.Time) bool { return !now.Before(exp) })
	return len(s.typing) < n
}

// NextTypingExpiry is the earliest moment a typing entry lapses.
func (s *State) NextTypingExpiry() (time.Time, bool) {
	var next time.Time
	for _, exp := range s.typing {
		if next.IsZero() || exp.Before(next) {
			next = exp
		}
	}
	return next, !next.IsZero()
}

// Typing returns the users currently typing, dropping expired entries.
func (s *State) Typing() []int64 {
	s.ExpireTyping()
	ids := make([]int64, 0, len(s.typing))
	for id := range s.typing {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *State) Online() []models.Member {
	out := make([]models.Member, 0, len(s.online))
	for _, m := range s.online {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b models.Member) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
