package chat

import (
	"context"
	"sync"
	"time"

	"PRelay/tools/errs"
	"PRelay/tools/ids"
)

// MessageRecord is the durable form of one chat message.
type MessageRecord struct {
	MessageID   int64     `bson:"message_id" json:"message_id"`
	ClientMsgID string    `bson:"client_msg_id" json:"client_msg_id"`
	ChatType    string    `bson:"chat_type" json:"chat_type"`
	TargetID    string    `bson:"target_id" json:"target_id"`
	SenderID    string    `bson:"sender_id" json:"sender_id"`
	Text        string    `bson:"text" json:"text"`
	Attachments []string  `bson:"attachments,omitempty" json:"attachments,omitempty"`
	ReplyTo     string    `bson:"reply_to,omitempty" json:"reply_to,omitempty"`
	Edited      bool      `bson:"edited" json:"edited"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// MessageStore persists messages. The hub owns delivery; history and
// pagination belong to the store's other consumers.
type MessageStore interface {
	Persist(ctx context.Context, rec *MessageRecord) (*MessageRecord, error)
	Get(ctx context.Context, chatType, targetID string, messageID int64) (*MessageRecord, error)
	Update(ctx context.Context, rec *MessageRecord) error
}

// TextValidator screens outgoing text before any side effect. A nil
// validator accepts everything.
type TextValidator interface {
	Validate(ctx context.Context, text string) (ok bool, offending []string, err error)
}

// MemMessageStore keeps messages in process memory. Used in tests and as
// the fallback when no durable store is wired.
type MemMessageStore struct {
	mu   sync.RWMutex
	recs map[int64]*MessageRecord
}

func NewMemMessageStore() *MemMessageStore {
	return &MemMessageStore{recs: map[int64]*MessageRecord{}}
}

func (s *MemMessageStore) Persist(_ context.Context, rec *MessageRecord) (*MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.MessageID = ids.Generate()
	cp.CreatedAt = time.Now()
	s.recs[cp.MessageID] = &cp
	out := cp
	return &out, nil
}

func (s *MemMessageStore) Get(_ context.Context, chatType, targetID string, messageID int64) (*MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[messageID]
	if !ok || rec.ChatType != chatType || rec.TargetID != targetID {
		return nil, errs.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemMessageStore) Update(_ context.Context, rec *MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.MessageID]; !ok {
		return errs.ErrRecordNotFound
	}
	cp := *rec
	s.recs[rec.MessageID] = &cp
	return nil
}
