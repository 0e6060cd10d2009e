package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOppositeRole(t *testing.T) {
	assert.Equal(t, "seller", OppositeRole("user"))
	assert.Equal(t, "user", OppositeRole("seller"))
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "seller_42", RoutingKey("seller", "42"))
	assert.Equal(t, "user_U1", RoutingKey("user", "U1"))
}

func TestComputeDedupKey(t *testing.T) {
	now := time.Now()
	a := ChatMessage{ConversationID: "C1", SenderID: "U1", SenderType: "user", Content: "hi", CreatedAt: now}
	b := ChatMessage{ConversationID: "C1", SenderID: "U1", SenderType: "user", Content: "hi", CreatedAt: now}

	// 同一条消息重试必须得到同一个键
	assert.Equal(t, a.ComputeDedupKey(), b.ComputeDedupKey())
	assert.Len(t, a.ComputeDedupKey(), 40)

	b.Content = "hi!"
	assert.NotEqual(t, a.ComputeDedupKey(), b.ComputeDedupKey())

	b.Content = "hi"
	b.CreatedAt = now.Add(time.Nanosecond)
	assert.NotEqual(t, a.ComputeDedupKey(), b.ComputeDedupKey())
}
