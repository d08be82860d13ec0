package global

import "time"

// AppConfig carries the delivery core settings. Loading from files/env is
// the caller's concern; the zero-value defaults below are production-safe.
type AppConfig struct {
	GatewayID   string // node id, also the snowflake node seed
	ProcessRole string // ProcessMobile or ProcessWeb

	Redis RedisConfig
	Mongo MongoConfig
	Kafka KafkaConfig
	Nats  NatsConfig

	Presence PresenceConfig
	Load     LoadConfig
	Queue    QueueConfig
	Chat     ChatConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type MongoConfig struct {
	URI      string
	Database string
}

type KafkaConfig struct {
	Brokers     []string
	BridgeTopic string // relay topic, one per companion bridge group
	GroupID     string
}

type NatsConfig struct {
	URL           string
	NotifySubject string
}

type PresenceConfig struct {
	TTL           time.Duration // presence entry TTL, renewed by heartbeat
	MembershipTTL time.Duration // membership cache TTL (hours range)
}

type LoadConfig struct {
	SampleWindow   time.Duration // cache window for load samples
	CPUThreshold   float64       // pct, pressure trigger
	MemThreshold   float64       // pct, pressure trigger
	ConnCeiling    int           // connection pressure trigger
}

type QueueConfig struct {
	Workers      int
	RatePerSec   float64 // worker drain rate limit
	MaxAttempts  int
	PollInterval time.Duration
}

type ChatConfig struct {
	SendQueueSize   int
	EditWindow      time.Duration
	HeartbeatEvery  time.Duration
	LargeAudience   int // queue High above this size
	MediumAudience  int // queue Normal above this size
	BulkAttachments int // queue High at or above this attachment count
}

func (c *AppConfig) Norm() {
	if c.ProcessRole == "" {
		c.ProcessRole = ProcessMobile
	}
	if c.Presence.TTL <= 0 {
		c.Presence.TTL = 60 * time.Second
	}
	if c.Presence.MembershipTTL <= 0 {
		c.Presence.MembershipTTL = 6 * time.Hour
	}
	if c.Load.SampleWindow <= 0 {
		c.Load.SampleWindow = 5 * time.Second
	}
	if c.Load.CPUThreshold <= 0 {
		c.Load.CPUThreshold = 70
	}
	if c.Load.MemThreshold <= 0 {
		c.Load.MemThreshold = 75
	}
	if c.Load.ConnCeiling <= 0 {
		c.Load.ConnCeiling = 10000
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 8
	}
	if c.Queue.RatePerSec <= 0 {
		c.Queue.RatePerSec = 200
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = 500 * time.Millisecond
	}
	if c.Chat.SendQueueSize <= 0 {
		c.Chat.SendQueueSize = 256
	}
	if c.Chat.EditWindow <= 0 {
		c.Chat.EditWindow = 15 * time.Minute
	}
	if c.Chat.HeartbeatEvery <= 0 {
		c.Chat.HeartbeatEvery = 25 * time.Second
	}
	if c.Chat.LargeAudience <= 0 {
		c.Chat.LargeAudience = 200
	}
	if c.Chat.MediumAudience <= 0 {
		c.Chat.MediumAudience = 50
	}
	if c.Chat.BulkAttachments <= 0 {
		c.Chat.BulkAttachments = 3
	}
}
