package handlers

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotEvent 首帧裸身份 token 会走到这里，由握手逻辑接管
	ErrNotEvent     = errors.New("payload is not a structured event")
	ErrUnknownEvent = errors.New("unknown event shape")
)

// 入站帧只有两种形状，按判别字段解成强类型事件：
// 带 type 字段的是 MARK_AS_SEEN，带 fromUserId 的是发消息
type MarkSeenEvent struct {
	ConversationID string
}

type SendMessageEvent struct {
	FromUserID     string
	ToUserID       string
	MessageBody    string
	ConversationID string
	SenderType     string // user 或 seller
}

type inboundFrame struct {
	Type           string `json:"type"`
	FromUserID     string `json:"fromUserId"`
	ToUserID       string `json:"toUserId"`
	MessageBody    string `json:"messageBody"`
	ConversationID string `json:"conversationId"`
	SenderType     string `json:"senderType"`
}

// DecodeEvent 在边界处做一次解码，后面全走强类型
func DecodeEvent(data []byte) (interface{}, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, ErrNotEvent
	}

	switch {
	case frame.Type == "MARK_AS_SEEN":
		return MarkSeenEvent{ConversationID: frame.ConversationID}, nil
	case frame.FromUserID != "":
		return SendMessageEvent{
			FromUserID:     frame.FromUserID,
			ToUserID:       frame.ToUserID,
			MessageBody:    frame.MessageBody,
			ConversationID: frame.ConversationID,
			SenderType:     frame.SenderType,
		}, nil
	default:
		return nil, ErrUnknownEvent
	}
}

// 出站帧
type Frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type MessagePayload struct {
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderType     string    `json:"senderType"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

type UnseenCountPayload struct {
	ConversationID string `json:"conversationId"`
	Count          int    `json:"count"`
}

func NewMessageFrame(p MessagePayload) Frame {
	return Frame{Type: "NEW_MESSAGE", Payload: p}
}

func UnseenCountFrame(conversationID string, count int) Frame {
	return Frame{Type: "UNSEEN_COUNT_UPDATE", Payload: UnseenCountPayload{ConversationID: conversationID, Count: count}}
}
