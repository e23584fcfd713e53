package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"securechat/pkg/domain"
)

var (
	bucketMessages      = []byte("messages")
	bucketPairs         = []byte("pairs")
	bucketConversations = []byte("conversations")
)

// BoltStore is a single-file MessageStore for single-node deployments.
//
// Layout:
//
//	messages/<id>                     JSON message, id is a big-endian sequence
//	pairs/<a>\x00<b>/<id>             history index, a <= b
//	conversations/<user>/<counterpart> RFC 3339 time of the latest message
type BoltStore struct {
	db    *bolt.DB
	clock *stampClock
}

type boltMessage struct {
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	s := &BoltStore{db: db, clock: newStampClock()}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMessages, bucketPairs, bucketConversations} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		// Resume the clock after the newest stored message so timestamps
		// keep increasing across restarts.
		_, v := tx.Bucket(bucketMessages).Cursor().Last()
		if v == nil {
			return nil
		}
		var last boltMessage
		if err := json.Unmarshal(v, &last); err != nil {
			return fmt.Errorf("decode last message: %w", err)
		}
		s.clock.last = last.Timestamp
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt: %w", err)
	}
	return s, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// AppendMessage runs in one write transaction; bolt allows a single writer,
// so id and timestamp order agree.
func (s *BoltStore) AppendMessage(ctx context.Context, sender, receiver, content string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	var msg domain.Message
	err := s.db.Update(func(tx *bolt.Tx) error {
		messages := tx.Bucket(bucketMessages)
		id, err := messages.NextSequence()
		if err != nil {
			return err
		}
		rec := boltMessage{Sender: sender, Receiver: receiver, Content: content, Timestamp: s.clock.Next()}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		key := idKey(id)
		if err := messages.Put(key, data); err != nil {
			return err
		}
		pair, err := tx.Bucket(bucketPairs).CreateBucketIfNotExists(pairKey(sender, receiver))
		if err != nil {
			return err
		}
		if err := pair.Put(key, nil); err != nil {
			return err
		}
		stamp := []byte(rec.Timestamp.Format(time.RFC3339Nano))
		if err := touchConversation(tx, sender, receiver, stamp); err != nil {
			return err
		}
		if sender != receiver {
			if err := touchConversation(tx, receiver, sender, stamp); err != nil {
				return err
			}
		}
		msg = domain.Message{ID: int64(id), Sender: sender, Receiver: receiver, Content: content, Timestamp: rec.Timestamp}
		return nil
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *BoltStore) History(ctx context.Context, a, b string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []domain.Message{}
	err := s.db.View(func(tx *bolt.Tx) error {
		pair := tx.Bucket(bucketPairs).Bucket(pairKey(a, b))
		if pair == nil {
			return nil
		}
		messages := tx.Bucket(bucketMessages)
		return pair.ForEach(func(k, _ []byte) error {
			data := messages.Get(k)
			if data == nil {
				return fmt.Errorf("history index points at missing message %d", binary.BigEndian.Uint64(k))
			}
			var rec boltMessage
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			out = append(out, domain.Message{
				ID:        int64(binary.BigEndian.Uint64(k)),
				Sender:    rec.Sender,
				Receiver:  rec.Receiver,
				Content:   rec.Content,
				Timestamp: rec.Timestamp,
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return out, nil
}

func (s *BoltStore) Conversations(ctx context.Context, user string) ([]domain.ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []domain.ConversationSummary{}
	err := s.db.View(func(tx *bolt.Tx) error {
		threads := tx.Bucket(bucketConversations).Bucket([]byte(user))
		if threads == nil {
			return nil
		}
		return threads.ForEach(func(k, v []byte) error {
			ts, err := time.Parse(time.RFC3339Nano, string(v))
			if err != nil {
				return fmt.Errorf("decode last activity for %q: %w", k, err)
			}
			out = append(out, domain.ConversationSummary{Counterpart: string(k), LastActivity: ts.UTC()})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("conversations: %w", err)
	}
	SortConversations(out)
	return out, nil
}

func touchConversation(tx *bolt.Tx, user, counterpart string, stamp []byte) error {
	threads, err := tx.Bucket(bucketConversations).CreateBucketIfNotExists([]byte(user))
	if err != nil {
		return err
	}
	return threads.Put([]byte(counterpart), stamp)
}

func idKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func pairKey(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte(a + "\x00" + b)
}
