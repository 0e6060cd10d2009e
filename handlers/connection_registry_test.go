package handlers

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndSend(t *testing.T) {
	r := NewConnectionRegistry()
	c := NewClientConn(nil)

	r.Register("user_U1", c)
	assert.True(t, r.IsRegistered("user_U1"))
	assert.Equal(t, "user_U1", c.Key)

	ok := r.Send("user_U1", UnseenCountFrame("C1", 1))
	assert.True(t, ok)
	assert.Len(t, c.Send, 1)
}

func TestSendToUnregisteredKey(t *testing.T) {
	r := NewConnectionRegistry()
	assert.False(t, r.Send("seller_S1", UnseenCountFrame("C1", 1)))
}

func TestLastRegistrationWins(t *testing.T) {
	r := NewConnectionRegistry()
	first := NewClientConn(nil)
	second := NewClientConn(nil)

	r.Register("user_U1", first)
	r.Register("user_U1", second)

	// 旧连接被关闭，新连接接管路由 key
	select {
	case <-first.ctx.Done():
	default:
		t.Fatal("superseded connection was not closed")
	}

	require.True(t, r.Send("user_U1", UnseenCountFrame("C1", 1)))
	assert.Len(t, second.Send, 1)
	assert.Empty(t, first.Send)
}

func TestSendDuringTeardownDoesNotPanic(t *testing.T) {
	// 投递和断开/顶号并发跑：close 只取消 ctx、不关通道，
	// 任何交错都不允许 panic，也不允许把发送方协程带崩
	r := NewConnectionRegistry()
	payload := strings.Repeat("x", 4096)

	for i := 0; i < 200; i++ {
		c := NewClientConn(nil)
		r.Register("user_U1", c)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				r.Send("user_U1", NewMessageFrame(MessagePayload{ConversationID: "C1", Content: payload}))
			}
		}()
		go func() {
			defer wg.Done()
			r.Unregister("user_U1", c)
		}()
		go func() {
			defer wg.Done()
			r.Register("user_U1", NewClientConn(nil))
		}()
		wg.Wait()
	}
}

func TestUnregisterIsIdentityChecked(t *testing.T) {
	r := NewConnectionRegistry()
	old := NewClientConn(nil)
	replacement := NewClientConn(nil)

	r.Register("user_U1", old)
	r.Register("user_U1", replacement)

	// 被顶掉的旧连接迟到的清理不能把新连接挤掉
	r.Unregister("user_U1", old)
	assert.True(t, r.IsRegistered("user_U1"))

	r.Unregister("user_U1", replacement)
	assert.False(t, r.IsRegistered("user_U1"))
}
