package worker

import (
	"context"
	"encoding/json"
	"log"

	"github.com/IBM/sarama"

	"github.com/khiemvuong/e-commerce-saas-sub002/models"
)

// Handle 消费回调：解出消息进缓冲区，mark 延迟到整批落库成功后调用，
// 窗口内崩掉的消息 offset 没提交、会被重新投递。
// 解不开的坏载荷记日志后直接 mark，重投也解不开，没必要卡住分区
func (w *Worker) Handle(ctx context.Context, message *sarama.ConsumerMessage, mark func()) error {
	var msg models.ChatMessage
	if err := json.Unmarshal(message.Value, &msg); err != nil {
		log.Printf("Failed to unmarshal chat message at offset %d: %v", message.Offset, err)
		if mark != nil {
			mark()
		}
		return nil
	}

	w.AddWithAck(msg, mark)
	return nil
}
