package kafka

import (
	"context"
	"encoding/json"

	"PRelay/service/chat"

	"github.com/Shopify/sarama"
)

const originHeader = "origin-process"

// BridgeRelay mirrors hub events to the companion process over one Kafka
// topic. The routing key is the partition key so per-chat ordering holds
// across the bridge.
type BridgeRelay struct {
	client   sarama.Client
	producer sarama.SyncProducer
	topic    string
}

func NewBridgeRelay(conf Config, topic string) (*BridgeRelay, error) {
	conf.norm()
	client, err := sarama.NewClient(conf.Brokers, buildBaseConfig(conf))
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &BridgeRelay{client: client, producer: producer, topic: topic}, nil
}

func (r *BridgeRelay) Publish(_ context.Context, env *chat.RelayEnvelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: r.topic,
		Key:   sarama.StringEncoder(env.RoutingKey),
		Value: sarama.ByteEncoder(raw),
		Headers: []sarama.RecordHeader{
			{Key: []byte(originHeader), Value: []byte(env.Origin)},
		},
	}
	_, _, err = r.producer.SendMessage(msg)
	return err
}

func (r *BridgeRelay) Close() error {
	if err := r.producer.Close(); err != nil {
		_ = r.client.Close()
		return err
	}
	return r.client.Close()
}
