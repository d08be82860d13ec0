package chat

import (
	"context"
	"time"

	"PRelay/tools/errs"
	"PRelay/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const messagesColl = "messages"

// MongoMessageStore persists messages to the messages collection, one
// document per message keyed by snowflake id.
type MongoMessageStore struct {
	db *mongo.Database
}

func NewMongoMessageStore(db *mongo.Database) *MongoMessageStore {
	return &MongoMessageStore{db: db}
}

func (s *MongoMessageStore) Persist(ctx context.Context, rec *MessageRecord) (*MessageRecord, error) {
	cp := *rec
	cp.MessageID = ids.Generate()
	cp.CreatedAt = time.Now()
	if _, err := s.db.Collection(messagesColl).InsertOne(ctx, &cp); err != nil {
		return nil, errs.ErrDurableStoreDown.WithDetail(err.Error())
	}
	return &cp, nil
}

func (s *MongoMessageStore) Get(ctx context.Context, chatType, targetID string, messageID int64) (*MessageRecord, error) {
	filter := bson.M{"message_id": messageID, "chat_type": chatType, "target_id": targetID}
	rec := &MessageRecord{}
	err := s.db.Collection(messagesColl).FindOne(ctx, filter).Decode(rec)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrRecordNotFound
	}
	if err != nil {
		return nil, errs.ErrDurableStoreDown.WithDetail(err.Error())
	}
	return rec, nil
}

func (s *MongoMessageStore) Update(ctx context.Context, rec *MessageRecord) error {
	filter := bson.M{"message_id": rec.MessageID}
	update := bson.M{"$set": bson.M{"text": rec.Text, "edited": true}}
	res, err := s.db.Collection(messagesColl).UpdateOne(ctx, filter, update)
	if err != nil {
		return errs.ErrDurableStoreDown.WithDetail(err.Error())
	}
	if res.MatchedCount == 0 {
		return errs.ErrRecordNotFound
	}
	return nil
}
