package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/khiemvuong/e-commerce-saas-sub002/limiter"
	"github.com/khiemvuong/e-commerce-saas-sub002/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 每个发送方的消息限速，超出直接丢弃（与协议错误同样不回包）
const (
	sendRateLimit  = 30
	sendRateWindow = 10 * time.Second
)

// PresenceStore 在线状态的写入口，生产实现是 Redis
type PresenceStore interface {
	SetOnline(ctx context.Context, role, participantID string) error
	SetOffline(ctx context.Context, role, participantID string) error
}

// LogAppender 消息日志的写入口，生产实现是 Kafka（按会话 ID 分区）
type LogAppender interface {
	AppendMessage(conversationID string, msg *models.ChatMessage) error
}

// ChatGatewayHandler 聊天网关：握手注册身份、转发消息、维护内存未读数、写消息日志。
// 内存未读数只用来标注实时推送的 UNSEEN_COUNT_UPDATE，
// 持久未读数由持久化 worker 维护，避免两边重复累加
type ChatGatewayHandler struct {
	registry *ConnectionRegistry
	presence PresenceStore
	chatLog  LogAppender
	limiter  *limiter.Manager // 可为 nil（测试环境）

	mu     sync.Mutex
	unseen map[string]int // "<routingKey>|<conversationId>" -> 未读数
}

func NewChatGatewayHandler(presence PresenceStore, chatLog LogAppender, rateLimiter *limiter.Manager) *ChatGatewayHandler {
	return &ChatGatewayHandler{
		registry: NewConnectionRegistry(),
		presence: presence,
		chatLog:  chatLog,
		limiter:  rateLimiter,
		unseen:   make(map[string]int),
	}
}

func (h *ChatGatewayHandler) Registry() *ConnectionRegistry {
	return h.registry
}

func (h *ChatGatewayHandler) HandleWebSocket(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClientConn(ws)

	// 启动写入goroutine
	go h.writePump(client)

	// 当前goroutine处理读取
	h.readPump(client)

	return nil
}

// 读取客户端消息。首帧是裸路由 key（非 JSON），完成身份注册；
// 之后的帧都是 JSON 事件
func (h *ChatGatewayHandler) readPump(client *ClientConn) {
	defer func() {
		if client.Key != "" {
			h.registry.Unregister(client.Key, client)
			role, id, ok := splitRoutingKey(client.Key)
			// 被顶掉的旧连接不能把新连接的在线标记删掉
			if ok && !h.registry.IsRegistered(client.Key) {
				// 显式删除在线标记，过期只是非正常断开的兜底
				if err := h.presence.SetOffline(context.Background(), role, id); err != nil {
					log.Printf("Failed to clear presence for %s: %v", client.Key, err)
				}
			}
		} else {
			client.close()
		}
		client.Conn.Close()
	}()

	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if client.Key == "" {
			h.handleHandshake(client, data)
			continue
		}

		event, err := DecodeEvent(data)
		if err != nil {
			log.Printf("Dropping undecodable frame from %s: %v", client.Key, err)
			continue
		}
		h.handleEvent(client, event)
	}
}

// 向客户端写入消息
func (h *ChatGatewayHandler) writePump(client *ClientConn) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case <-client.ctx.Done():
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WriteMessage error: %v", err)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// 握手：首帧必须是裸身份 token，能解出结构化事件说明客户端乱序了，
// 丢弃并记日志，不回错误帧，连接保持打开
func (h *ChatGatewayHandler) handleHandshake(client *ClientConn, data []byte) {
	if _, err := DecodeEvent(data); err == nil {
		log.Printf("Dropping event received before registration from connection %s", client.ID)
		return
	}

	key := strings.TrimSpace(string(data))
	role, id, ok := splitRoutingKey(key)
	if !ok {
		log.Printf("Dropping malformed registration token from connection %s", client.ID)
		return
	}

	h.registry.Register(key, client)
	if err := h.presence.SetOnline(context.Background(), role, id); err != nil {
		log.Printf("Failed to set presence for %s: %v", key, err)
	}
	log.Printf("Registered connection %s as %s", client.ID, key)
}

func (h *ChatGatewayHandler) handleEvent(client *ClientConn, event interface{}) {
	switch ev := event.(type) {
	case MarkSeenEvent:
		h.handleMarkSeen(client, ev)
	case SendMessageEvent:
		h.handleSendMessage(client, ev)
	}
}

// MARK_AS_SEEN 只清内存计数；持久未读数由已读接口清
func (h *ChatGatewayHandler) handleMarkSeen(client *ClientConn, ev MarkSeenEvent) {
	h.mu.Lock()
	delete(h.unseen, unseenKey(client.Key, ev.ConversationID))
	h.mu.Unlock()
}

func (h *ChatGatewayHandler) handleSendMessage(client *ClientConn, ev SendMessageEvent) {
	// 路由字段和消息体缺一不可，缺了丢弃、不回错误帧
	if ev.FromUserID == "" || ev.ToUserID == "" || ev.ConversationID == "" || ev.SenderType == "" || ev.MessageBody == "" {
		log.Printf("Dropping chat event with missing fields from %s", client.Key)
		return
	}

	senderKey := models.RoutingKey(ev.SenderType, ev.FromUserID)

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(context.Background(), "msgrate:"+senderKey, sendRateLimit, sendRateWindow)
		if err == nil && !allowed {
			log.Printf("Dropping chat event from %s: rate limit exceeded", senderKey)
			return
		}
	}

	msg := &models.ChatMessage{
		ConversationID: ev.ConversationID,
		SenderID:       ev.FromUserID,
		SenderType:     ev.SenderType,
		Content:        ev.MessageBody,
		CreatedAt:      time.Now(),
	}

	receiverKey := models.RoutingKey(models.OppositeRole(ev.SenderType), ev.ToUserID)
	count := h.bumpUnseen(receiverKey, ev.ConversationID)

	frame := NewMessageFrame(MessagePayload{
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderType:     msg.SenderType,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	})

	// 先推对端，再回显给发送方，最后写日志。
	// 推送不等 ack、不重试；持久性只靠日志这条路保证
	h.registry.Send(receiverKey, frame)
	h.registry.Send(receiverKey, UnseenCountFrame(ev.ConversationID, count))
	h.registry.Send(senderKey, frame)

	if err := h.chatLog.AppendMessage(ev.ConversationID, msg); err != nil {
		// 日志写失败不影响已完成的实时投递，只能接受消息可能丢持久化
		log.Printf("Failed to append message to chat log for conversation %s: %v", ev.ConversationID, err)
	}
}

func (h *ChatGatewayHandler) bumpUnseen(receiverKey, conversationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := unseenKey(receiverKey, conversationID)
	h.unseen[k]++
	return h.unseen[k]
}

func unseenKey(routingKey, conversationID string) string {
	return routingKey + "|" + conversationID
}

// splitRoutingKey 拆 "<role>_<id>"，角色必须是 user 或 seller
func splitRoutingKey(key string) (role, id string, ok bool) {
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", false
	}
	if parts[0] != models.RoleBuyer && parts[0] != models.RoleSeller {
		return "", "", false
	}
	return parts[0], parts[1], true
}
