package chat

import (
	"context"
	"sync"

	"PRelay/global"
	"PRelay/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MembershipSource is the external source of truth for who belongs to
// which chat. Results are cached in the presence directory; this interface
// is only consulted on cache misses and for audience sizing.
type MembershipSource interface {
	Members(ctx context.Context, chatType, targetID string) ([]string, error)
	AudienceSize(ctx context.Context, chatType, targetID string) (int, error)
	RoutingKeys(ctx context.Context, userID string) ([]string, error)
}

const membersColl = "group_members"

type memberDoc struct {
	ChatType string `bson:"chat_type"`
	TargetID string `bson:"target_id"`
	UserID   string `bson:"user_id"`
}

// MongoMembershipSource reads group rosters from the group_members
// collection, one document per (chat, user) pair.
type MongoMembershipSource struct {
	db *mongo.Database
}

func NewMongoMembershipSource(db *mongo.Database) *MongoMembershipSource {
	return &MongoMembershipSource{db: db}
}

func (s *MongoMembershipSource) Members(ctx context.Context, chatType, targetID string) ([]string, error) {
	cur, err := s.db.Collection(membersColl).Find(ctx, bson.M{"chat_type": chatType, "target_id": targetID})
	if err != nil {
		return nil, errs.ErrAudienceLookup.WithDetail(err.Error())
	}
	defer cur.Close(ctx)
	var out []string
	for cur.Next(ctx) {
		doc := memberDoc{}
		if err := cur.Decode(&doc); err != nil {
			return nil, errs.ErrAudienceLookup.WithDetail(err.Error())
		}
		out = append(out, doc.UserID)
	}
	if err := cur.Err(); err != nil {
		return nil, errs.ErrAudienceLookup.WithDetail(err.Error())
	}
	return out, nil
}

func (s *MongoMembershipSource) AudienceSize(ctx context.Context, chatType, targetID string) (int, error) {
	n, err := s.db.Collection(membersColl).CountDocuments(ctx, bson.M{"chat_type": chatType, "target_id": targetID})
	if err != nil {
		return 0, errs.ErrAudienceLookup.WithDetail(err.Error())
	}
	return int(n), nil
}

func (s *MongoMembershipSource) RoutingKeys(ctx context.Context, userID string) ([]string, error) {
	cur, err := s.db.Collection(membersColl).Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, errs.ErrAudienceLookup.WithDetail(err.Error())
	}
	defer cur.Close(ctx)
	var out []string
	for cur.Next(ctx) {
		doc := memberDoc{}
		if err := cur.Decode(&doc); err != nil {
			return nil, errs.ErrAudienceLookup.WithDetail(err.Error())
		}
		out = append(out, global.RoutingKeyFor(doc.ChatType, doc.TargetID))
	}
	if err := cur.Err(); err != nil {
		return nil, errs.ErrAudienceLookup.WithDetail(err.Error())
	}
	return out, nil
}

// MemMembershipSource is the in-memory roster used by tests.
type MemMembershipSource struct {
	mu      sync.RWMutex
	rosters map[string][]string // routingKey -> userIDs
}

func NewMemMembershipSource() *MemMembershipSource {
	return &MemMembershipSource{rosters: map[string][]string{}}
}

func (s *MemMembershipSource) SetRoster(chatType, targetID string, userIDs ...string) {
	s.mu.Lock()
	s.rosters[global.RoutingKeyFor(chatType, targetID)] = append([]string(nil), userIDs...)
	s.mu.Unlock()
}

func (s *MemMembershipSource) Members(_ context.Context, chatType, targetID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.rosters[global.RoutingKeyFor(chatType, targetID)]...), nil
}

func (s *MemMembershipSource) AudienceSize(ctx context.Context, chatType, targetID string) (int, error) {
	members, err := s.Members(ctx, chatType, targetID)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

func (s *MemMembershipSource) RoutingKeys(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for key, users := range s.rosters {
		for _, u := range users {
			if u == userID {
				out = append(out, key)
				break
			}
		}
	}
	return out, nil
}
