package chattest

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/woedy/snelroi-chat/internal/support"
)

var (
	ErrNotFound     = errors.New("conversation not found")
	ErrForbidden    = errors.New("not a participant of this conversation")
	ErrEmptyMessage = errors.New("message cannot be empty")
)

// User is an authenticated participant. Staff users act as support agents.
type User struct {
	ID    int64
	Name  string
	Email string
	Staff bool
}

// SenderType returns the wire sender type for messages u writes.
func (u User) SenderType() support.SenderType {
	if u.Staff {
		return support.SenderAdmin
	}
	return support.SenderCustomer
}

type conversation struct {
	support.Conversation
	customerID int64
}

// Store holds users, conversations and messages in memory. Reads return
// copies.
type Store struct {
	mu            sync.RWMutex
	users         map[string]User
	conversations map[int64]*conversation
	nextConv      int64
	nextMsg       int64
	now           func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:         make(map[string]User),
		conversations: make(map[int64]*conversation),
		now:           time.Now,
	}
}

// AddUser registers token as the credential of u.
func (s *Store) AddUser(token string, u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[token] = u
}

// UserForToken authenticates a bearer token.
func (s *Store) UserForToken(token string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.TrimSpace(token)]
	return u, ok
}

// GetOrCreate returns the customer's open conversation, creating one if none
// is open.
func (s *Store) GetOrCreate(customer User) support.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.sortedLocked() {
		if c.customerID == customer.ID && (c.Status == support.StatusOpen || c.Status == support.StatusInProgress) {
			return copyConversation(c)
		}
	}
	return copyConversation(s.createLocked(customer))
}

// SeedConversation creates a fresh open conversation for customer.
func (s *Store) SeedConversation(customer User) support.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyConversation(s.createLocked(customer))
}

func (s *Store) createLocked(customer User) *conversation {
	s.nextConv++
	now := s.now()
	c := &conversation{
		Conversation: support.Conversation{
			ID:            s.nextConv,
			CustomerName:  customer.Name,
			CustomerEmail: customer.Email,
			Status:        support.StatusOpen,
			Subject:       "Support Request",
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		customerID: customer.ID,
	}
	s.conversations[c.ID] = c
	return c
}

// Authorized reports whether u may join conversation id: staff may join any
// conversation, customers only their own.
func (s *Store) Authorized(u User, id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return false
	}
	return u.Staff || c.customerID == u.ID
}

// Conversation returns a copy of conversation id as seen by u. Reading marks
// the counterpart's messages as read.
func (s *Store) Conversation(u User, id int64) (support.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.accessLocked(u, id)
	if err != nil {
		return support.Conversation{}, err
	}
	for i := range c.Messages {
		if c.Messages[i].SenderType != u.SenderType() {
			c.Messages[i].IsRead = true
		}
	}
	return copyConversation(c), nil
}

// List returns the conversations visible to u, newest first.
func (s *Store) List(u User) []support.ConversationListItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sorted := s.sortedLocked()
	out := make([]support.ConversationListItem, 0, len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		c := sorted[i]
		if !u.Staff && c.customerID != u.ID {
			continue
		}
		item := support.ConversationListItem{
			ID:            c.ID,
			CustomerName:  c.CustomerName,
			CustomerEmail: c.CustomerEmail,
			Status:        c.Status,
			Subject:       c.Subject,
			CreatedAt:     c.CreatedAt,
			UpdatedAt:     c.UpdatedAt,
			LastMessageAt: c.LastMessageAt,
			UnreadCount:   unread(c, u),
		}
		if n := len(c.Messages); n > 0 {
			last := c.Messages[n-1]
			text := last.Message
			if len(text) > 100 {
				text = text[:100]
			}
			item.LastMessage = &support.LastMessage{Message: text, SenderType: last.SenderType, CreatedAt: last.CreatedAt}
		}
		out = append(out, item)
	}
	return out
}

// Append persists a message from sender. An agent's first reply moves an
// open conversation to IN_PROGRESS.
func (s *Store) Append(sender User, id int64, text string) (support.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return support.ChatMessage{}, ErrEmptyMessage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.accessLocked(sender, id)
	if err != nil {
		return support.ChatMessage{}, err
	}
	s.nextMsg++
	now := s.now()
	msg := support.ChatMessage{
		ID:         s.nextMsg,
		SenderType: sender.SenderType(),
		SenderName: sender.Name,
		Message:    text,
		CreatedAt:  now,
	}
	c.Messages = append(c.Messages, msg)
	c.LastMessageAt = &now
	c.UpdatedAt = now
	if c.Status == support.StatusOpen && sender.Staff {
		c.Status = support.StatusInProgress
	}
	return msg, nil
}

// SetStatus changes a conversation's status. Only staff may do this.
func (s *Store) SetStatus(u User, id int64, status support.ConversationStatus) (support.Conversation, error) {
	if !u.Staff {
		return support.Conversation{}, ErrForbidden
	}
	if !status.Valid() {
		return support.Conversation{}, errors.Errorf("invalid status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return support.Conversation{}, ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = s.now()
	return copyConversation(c), nil
}

// UnreadCount sums the counterpart messages u has not read.
func (s *Store) UnreadCount(u User) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, c := range s.conversations {
		if u.Staff || c.customerID == u.ID {
			total += unread(c, u)
		}
	}
	return total
}

func (s *Store) accessLocked(u User, id int64) (*conversation, error) {
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !u.Staff && c.customerID != u.ID {
		return nil, ErrForbidden
	}
	return c, nil
}

func (s *Store) sortedLocked() []*conversation {
	out := make([]*conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func unread(c *conversation, u User) int {
	n := 0
	for _, m := range c.Messages {
		if !m.IsRead && m.SenderType != u.SenderType() {
			n++
		}
	}
	return n
}

func copyConversation(c *conversation) support.Conversation {
	out := c.Conversation
	out.Messages = append([]support.ChatMessage(nil), c.Messages...)
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		out.LastMessageAt = &t
	}
	return out
}
