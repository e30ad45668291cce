// Package kafka creates watermill publishers and subscribers backed by Kafka.
package kafka

import (
	"errors"
	"slices"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
)

// PartitionKeyMetadata is the message metadata used as Kafka partition key.
// Every message of one transaction carries its id there and so keeps its order.
const PartitionKeyMetadata = "key"

var ErrNoBrokers = errors.New("kafka brokers are not set")

// CreateChannel connects to brokers. Replicas of one service share the
// consumer group "cg-<serviceName>" and split partitions between them.
func CreateChannel(logger watermill.LoggerAdapter, brokers []string, serviceName string) (*kafka.Publisher, *kafka.Subscriber, error) {
	brokers = slices.DeleteFunc(slices.Clone(brokers), func(broker string) bool { return broker == "" })
	if len(brokers) == 0 {
		return nil, nil, ErrNoBrokers
	}

	marshaler := kafka.NewWithPartitioningMarshaler(partitionKey)

	publisher, err := newPublisher(logger, brokers, marshaler)
	if err != nil {
		return nil, nil, err
	}

	subscriber, err := newSubscriber(logger, brokers, marshaler, "cg-"+serviceName)
	if err != nil {
		_ = publisher.Close()

		return nil, nil, err
	}

	return publisher, subscriber, nil
}

func partitionKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(PartitionKeyMetadata), nil
}

func newPublisher(logger watermill.LoggerAdapter, brokers []string, marshaler kafka.Marshaler) (*kafka.Publisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Partitioner = sarama.NewHashPartitioner

	return kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:               brokers,
		Marshaler:             marshaler,
		OverwriteSaramaConfig: config,
		OTELEnabled:           true,
	}, logger)
}

func newSubscriber(logger watermill.LoggerAdapter, brokers []string, unmarshaler kafka.Unmarshaler, group string) (*kafka.Subscriber, error) {
	config := kafka.DefaultSaramaSubscriberConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	return kafka.NewSubscriber(kafka.SubscriberConfig{
		Brokers:               brokers,
		Unmarshaler:           unmarshaler,
		OverwriteSaramaConfig: config,
		ConsumerGroup:         group,
		OTELEnabled:           true,
	}, logger)
}
