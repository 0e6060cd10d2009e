package models

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	RoleBuyer  = "user"
	RoleSeller = "seller"
)

// 聊天消息，网关打时间戳后不可变
type ChatMessage struct {
	ID             uint      `json:"-" gorm:"primaryKey"`
	ConversationID string    `json:"conversationId" gorm:"index"`
	SenderID       string    `json:"senderId"`
	SenderType     string    `json:"senderType"` // user 或 seller
	Content        string    `json:"content" gorm:"type:text"`
	CreatedAt      time.Time `json:"createdAt"`
	DedupKey       string    `json:"-" gorm:"uniqueIndex;size:40"`
}

// ComputeDedupKey 生成批量写入的幂等键，重试时 ON CONFLICT 跳过
func (m *ChatMessage) ComputeDedupKey() string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s|%d", m.SenderID, m.ConversationID, m.Content, m.CreatedAt.UnixNano())))
	return hex.EncodeToString(sum[:])
}

// OppositeRole 求对端角色，路由和未读计数都按对端算
func OppositeRole(role string) string {
	if role == RoleBuyer {
		return RoleSeller
	}
	return RoleBuyer
}

// RoutingKey 连接寻址用的 key，形如 "seller_42"
func RoutingKey(role, participantID string) string {
	return role + "_" + participantID
}
