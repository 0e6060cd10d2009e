package kafka

import (
	"encoding/json"
	"log"

	"github.com/IBM/sarama"

	"github.com/khiemvuong/e-commerce-saas-sub002/models"
)

type Producer struct {
	producer sarama.SyncProducer
}

func NewProducer(brokers []string, config *sarama.Config) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &Producer{producer: producer}, nil
}

func (p *Producer) SendMessage(topic string, key string, value interface{}) error {
	// 序列化消息
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(jsonValue),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		log.Printf("Failed to send message: %v", err)
		return err
	}

	log.Printf("Message sent to partition %d at offset %d", partition, offset)
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}

// ChatLog 把消息日志的 append 收敛成一个窄接口给网关用，
// 分区键固定为会话 ID，保证会话内有序
type ChatLog struct {
	producer *Producer
	topic    string
}

func NewChatLog(producer *Producer, topic string) *ChatLog {
	return &ChatLog{producer: producer, topic: topic}
}

func (l *ChatLog) AppendMessage(conversationID string, msg *models.ChatMessage) error {
	return l.producer.SendMessage(l.topic, conversationID, msg)
}
