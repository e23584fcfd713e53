package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"securechat/pkg/domain"
)

// MemoryStore is an in-process MessageStore and UserStore used for tests and
// single-node development.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []domain.Message
	nextID   int64
	users    map[string]domain.User
	clock    *stampClock
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		clock: newStampClock(),
	}
}

// AppendMessage assigns id and timestamp under the write lock, so ids and
// timestamps both follow insertion order.
func (s *MemoryStore) AppendMessage(ctx context.Context, sender, receiver, content string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg := domain.Message{
		ID:        s.nextID,
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Timestamp: s.clock.Next(),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *MemoryStore) History(ctx context.Context, a, b string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Message{}
	for _, m := range s.messages {
		if (m.Sender == a && m.Receiver == b) || (m.Sender == b && m.Receiver == a) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Conversations(ctx context.Context, user string) ([]domain.ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	latest := make(map[string]time.Time)
	for _, m := range s.messages {
		var counterpart string
		switch user {
		case m.Sender:
			counterpart = m.Receiver
		case m.Receiver:
			counterpart = m.Sender
		default:
			continue
		}
		if ts, ok := latest[counterpart]; !ok || m.Timestamp.After(ts) {
			latest[counterpart] = m.Timestamp
		}
	}
	s.mu.RUnlock()

	out := make([]domain.ConversationSummary, 0, len(latest))
	for counterpart, ts := range latest {
		out = append(out, domain.ConversationSummary{Counterpart: counterpart, LastActivity: ts})
	}
	SortConversations(out)
	return out, nil
}

// SortConversations orders summaries newest first, ties by counterpart ascending.
func SortConversations(items []domain.ConversationSummary) {
	slices.SortFunc(items, func(a, b domain.ConversationSummary) int {
		if c := b.LastActivity.Compare(a.LastActivity); c != 0 {
			return c
		}
		return strings.Compare(a.Counterpart, b.Counterpart)
	})
}

func (s *MemoryStore) CreateUser(ctx context.Context, u domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return ErrUsernameTaken
	}
	if s.emailTakenLocked(u.Email, "") {
		return ErrEmailTaken
	}
	now := time.Now().UTC()
	u.Contacts = slices.Clone(nonNil(u.Contacts))
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.Username] = u
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, username string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	u.Contacts = slices.Clone(u.Contacts)
	return u, nil
}

func (s *MemoryStore) UpdateUser(ctx context.Context, u domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.users[u.Username]
	if !ok {
		return ErrNotFound
	}
	if s.emailTakenLocked(u.Email, u.Username) {
		return ErrEmailTaken
	}
	current.Name = u.Name
	current.Email = u.Email
	current.PasswordHash = u.PasswordHash
	current.Contacts = slices.Clone(nonNil(u.Contacts))
	current.UpdatedAt = time.Now().UTC()
	s.users[u.Username] = current
	return nil
}

func (s *MemoryStore) DeleteUser(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		return ErrNotFound
	}
	delete(s.users, username)
	return nil
}

func (s *MemoryStore) emailTakenLocked(email, exceptUsername string) bool {
	for name, u := range s.users {
		if name != exceptUsername && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}
