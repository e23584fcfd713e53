package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// Message is one persisted chat message. Immutable once stored.
type Message struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Delivery is the frame pushed to a connected receiver.
type Delivery struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// DeliveryOf builds the push frame for msg.
func DeliveryOf(msg Message) Delivery {
	return Delivery{Sender: msg.Sender, Content: msg.Content, Timestamp: msg.Timestamp}
}

// ConversationSummary is the most recent activity between a user and one counterpart.
// On the wire it is a two element array: [counterpart, timestamp].
type ConversationSummary struct {
	Counterpart  string
	LastActivity time.Time
}

func (c ConversationSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{c.Counterpart, c.LastActivity})
}

func (c *ConversationSummary) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return errors.New("conversation summary must be a [counterpart, timestamp] pair")
	}
	if err := json.Unmarshal(pair[0], &c.Counterpart); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &c.LastActivity)
}

// User is a stored account.
type User struct {
	Username     string
	Name         string
	Email        string
	PasswordHash string
	PublicKey    string
	PrivateKey   string
	Contacts     []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the public view of a user.
type Profile struct {
	Username  string   `json:"username"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	PublicKey string   `json:"public_key"`
	Contacts  []string `json:"contacts"`
}

// ProfileOf returns the public view of u.
func ProfileOf(u User) Profile {
	contacts := u.Contacts
	if contacts == nil {
		contacts = []string{}
	}
	return Profile{
		Username:  u.Username,
		Name:      u.Name,
		Email:     u.Email,
		PublicKey: u.PublicKey,
		Contacts:  contacts,
	}
}

// Credentials is returned after a successful password check. The private key
// is handed to the owner so the client can decrypt end-to-end payloads.
type Credentials struct {
	OK         bool    `json:"ok"`
	User       Profile `json:"user"`
	PrivateKey string  `json:"private_key"`
}
