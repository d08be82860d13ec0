package mgo

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	mongoOnce sync.Once
	mongoMgr  *MongoManager
)

type MongoManager struct {
	client *mongo.Client
	db     *mongo.Database
}

type Config struct {
	URI      string
	Database string
}

// InitMongo connects the singleton client and pings the primary.
func InitMongo(c Config) error {
	var initErr error
	mongoOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cli, err := mongo.Connect(ctx, options.Client().ApplyURI(c.URI))
		if err != nil {
			initErr = errors.Wrap(err, "mongo connect")
			return
		}
		if err := cli.Ping(ctx, readpref.Primary()); err != nil {
			initErr = errors.Wrap(err, "mongo ping")
			return
		}
		mongoMgr = &MongoManager{client: cli, db: cli.Database(c.Database)}
	})
	return initErr
}

func GetDB() *mongo.Database {
	if mongoMgr == nil {
		panic("Mongo not initialized, call InitMongo first")
	}
	return mongoMgr.db
}

func CloseMongo(ctx context.Context) error {
	if mongoMgr != nil && mongoMgr.client != nil {
		return mongoMgr.client.Disconnect(ctx)
	}
	return nil
}
