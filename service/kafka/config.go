package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

type Config struct {
	Brokers             []string
	GroupID             string
	ProducerRetries     int
	ProducerCompression string // none/snappy/lz4/zstd
	InitialOffset       string // newest/oldest
	Version             sarama.KafkaVersion
}

func (c *Config) norm() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"127.0.0.1:9092"}
	}
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 5
	}
	if c.Version == (sarama.KafkaVersion{}) {
		c.Version = sarama.V2_1_0_0
	}
}

func buildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = c.Version

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.ProducerRetries
	// key controls the partition: events of one routing key stay ordered
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	switch strings.ToLower(c.InitialOffset) {
	case "oldest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}
