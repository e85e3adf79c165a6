package fleet

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Shopify/sarama"

	"HabitLink/logger"
)

// KafkaAdapter broadcasts over one shared topic. The message key is the room
// or user id with a hash partitioner, so per-room emission order survives
// partitioning. Each node consumes with its own group id and therefore sees
// the full stream (fleet fan-out, not work sharing).

type KafkaAdapter struct {
	brokers  []string
	topic    string
	nodeID   string
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	cancel   context.CancelFunc
}

func buildKafkaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 1
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // key controls partition

	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func NewKafkaAdapter(brokers []string, topic, nodeID string) (*KafkaAdapter, error) {
	cfg := buildKafkaConfig()
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	// unique group per node: every node gets every envelope
	group, err := sarama.NewConsumerGroup(brokers, "hab-fleet-"+nodeID, buildKafkaConfig())
	if err != nil {
		_ = producer.Close()
		return nil, err
	}
	return &KafkaAdapter{
		brokers:  brokers,
		topic:    topic,
		nodeID:   nodeID,
		producer: producer,
		group:    group,
	}, nil
}

func (a *KafkaAdapter) PublishToUser(_ context.Context, userID, event string, payload json.RawMessage) error {
	env := newEnvelope(a.nodeID, "", userID, event, payload)
	return a.publish(userID, env)
}

func (a *KafkaAdapter) PublishToRoom(_ context.Context, room, event string, payload json.RawMessage) error {
	env := newEnvelope(a.nodeID, room, "", event, payload)
	return a.publish(room, env)
}

func (a *KafkaAdapter) publish(key string, env *Envelope) error {
	b, err := env.Encode()
	if err != nil {
		return err
	}
	_, _, err = a.producer.SendMessage(&sarama.ProducerMessage{
		Topic: a.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(b),
	})
	return err
}

func (a *KafkaAdapter) Subscribe(h Handler) error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go func() {
		for err := range a.group.Errors() {
			logger.Warnf("[fleet/kafka] consumer group error: %v", err)
		}
	}()

	go func() {
		handler := &fleetGroupHandler{nodeID: a.nodeID, h: h}
		for {
			if err := a.group.Consume(ctx, []string{a.topic}, handler); err != nil {
				logger.Warnf("[fleet/kafka] consume error: %v", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return nil
}

func (a *KafkaAdapter) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.group != nil {
		_ = a.group.Close()
	}
	if a.producer != nil {
		return a.producer.Close()
	}
	return nil
}

type fleetGroupHandler struct {
	nodeID string
	h      Handler
}

func (h *fleetGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *fleetGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *fleetGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		env, err := DecodeEnvelope(msg.Value)
		if err != nil {
			logger.Warnf("[fleet/kafka] bad envelope partition=%d offset=%d: %v", msg.Partition, msg.Offset, err)
		} else if env.Origin != h.nodeID {
			h.h(env)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
