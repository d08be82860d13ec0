package unread

import (
	"context"

	"PRelay/service/mgo"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	collUnread   = "unread_counts"
	collLastRead = "last_read"
)

// MongoDurable persists reconciled read/unread state. It is only ever
// written by the reconciliation workers; live traffic reads it on cold
// fallback.
type MongoDurable struct{}

func NewMongoDurable() *MongoDurable { return &MongoDurable{} }

func keyFilter(k Key) bson.M {
	return bson.M{"user_id": k.UserID, "target_id": k.TargetID, "chat_type": k.ChatType}
}

func (d *MongoDurable) ComputeUnread(ctx context.Context, k Key) (int64, error) {
	var doc struct {
		Count int64 `bson:"count"`
	}
	err := mgo.GetDB().Collection(collUnread).FindOne(ctx, keyFilter(k)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "durable unread read")
	}
	return doc.Count, nil
}

func (d *MongoDurable) LastRead(ctx context.Context, k Key) (int64, error) {
	var doc struct {
		MessageID int64 `bson:"message_id"`
	}
	err := mgo.GetDB().Collection(collLastRead).FindOne(ctx, keyFilter(k)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "durable lastread read")
	}
	return doc.MessageID, nil
}

func (d *MongoDurable) BulkUpsertLastRead(ctx context.Context, entries []LastReadEntry) error {
	if len(entries) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(entries))
	for _, e := range entries {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(keyFilter(e.Key)).
			// $max keeps the pointer monotonic even against a concurrent
			// reconciler on the companion process
			SetUpdate(bson.M{"$max": bson.M{"message_id": e.MessageID}}).
			SetUpsert(true))
	}
	_, err := mgo.GetDB().Collection(collLastRead).BulkWrite(ctx, models)
	return errors.Wrap(err, "lastread bulk upsert")
}

func (d *MongoDurable) BulkUpsertUnread(ctx context.Context, entries []UnreadEntry) error {
	if len(entries) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(entries))
	for _, e := range entries {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(keyFilter(e.Key)).
			SetUpdate(bson.M{"$set": bson.M{"count": e.Count}}).
			SetUpsert(true))
	}
	_, err := mgo.GetDB().Collection(collUnread).BulkWrite(ctx, models)
	return errors.Wrap(err, "unread bulk upsert")
}

var _ Durable = (*MongoDurable)(nil)
