package kafka

import (
	"github.com/IBM/sarama"
)

// 给网关写入的消息打来源标记，排查消费侧问题用
type ChatInterceptor struct {
}

func (i *ChatInterceptor) OnSend(msg *sarama.ProducerMessage) {
	msg.Headers = append(msg.Headers, sarama.RecordHeader{
		Key:   []byte("produced-by"),
		Value: []byte("chat-gateway"),
	})
}

func NewChatInterceptor() *ChatInterceptor {
	return &ChatInterceptor{}
}
