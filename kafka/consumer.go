package kafka

import (
	"context"
	"log"

	"github.com/IBM/sarama"
)

// MessageHandler 消费侧业务回调。offset 不在这里提交：
// 回调拿到 mark 后自己决定提交时机（比如等整批落库成功），
// 没调 mark 就崩掉的消息会被重新投递
type MessageHandler interface {
	Handle(ctx context.Context, message *sarama.ConsumerMessage, mark func()) error
}

type Consumer struct {
	consumerGroup sarama.ConsumerGroup
	topics        []string
	handler       MessageHandler
}

func NewConsumer(brokers []string, groupID string, topics []string,
	config *sarama.Config, handler MessageHandler) (*Consumer, error) {
	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		consumerGroup: consumerGroup,
		topics:        topics,
		handler:       handler,
	}, nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		mark := func() { session.MarkMessage(message, "") }
		if err := c.handler.Handle(session.Context(), message, mark); err != nil {
			log.Printf("Failed to process message: %v", err)
		}
	}
	return nil
}

func (c *Consumer) Start(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.consumerGroup.Consume(ctx, c.topics, c); err != nil {
			if err == sarama.ErrClosedConsumerGroup {
				return nil
			}
			log.Printf("Consumer group error: %v", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.consumerGroup.Close()
}
