package handlers

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ClientConn 一条已升级的 WebSocket 连接，出站帧统一走 Send 队列
type ClientConn struct {
	ID   string // 连接唯一标识（UUID）
	Key  string // 握手后填充的路由 key
	Conn *websocket.Conn
	Send chan []byte // 发送消息队列（缓冲256条）

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func NewClientConn(ws *websocket.Conn) *ClientConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &ClientConn{
		ID:     uuid.New().String(),
		Conn:   ws,
		Send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
	}
}

// close 只取消 ctx，不关 Send 通道：
// 投递方随时可能还在往 Send 里塞帧，关了通道会 panic。
// writePump 看到 ctx 结束后自行退出，残留的帧随连接一起丢弃
func (c *ClientConn) close() {
	c.once.Do(func() {
		c.cancel()
	})
}

// ConnectionRegistry 路由 key -> 活跃连接，一个 key 同时只挂一条连接
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*ClientConn
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]*ClientConn),
	}
}

// Register 注册连接，同 key 重复注册时后注册者生效，旧连接被关闭
func (r *ConnectionRegistry) Register(key string, c *ClientConn) {
	r.mu.Lock()
	old := r.conns[key]
	r.conns[key] = c
	c.Key = key
	r.mu.Unlock()

	if old != nil && old != c {
		log.Printf("Routing key %s re-registered, closing previous connection %s", key, old.ID)
		old.close()
	}
}

// Unregister 只在 map 里挂的还是本连接时才移除，
// 避免被顶掉的旧连接迟到的清理把新连接挤掉
func (r *ConnectionRegistry) Unregister(key string, c *ClientConn) {
	r.mu.Lock()
	if cur, ok := r.conns[key]; ok && cur == c {
		delete(r.conns, key)
	}
	r.mu.Unlock()
	c.close()
}

// Send 向指定路由 key 投递一帧，对端不在线返回 false。
// 投递是尽力而为：队列满视为慢客户端，直接断开
func (r *ConnectionRegistry) Send(key string, frame Frame) bool {
	r.mu.RLock()
	c, ok := r.conns[key]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("Failed to marshal frame: %v", err)
		return false
	}

	select {
	case <-c.ctx.Done():
		return false
	case c.Send <- data:
		return true
	default:
		log.Printf("Client %s send buffer full, disconnecting", c.ID)
		r.Unregister(key, c)
		return false
	}
}

// IsRegistered 查询某路由 key 当前是否有活跃连接
func (r *ConnectionRegistry) IsRegistered(key string) bool {
	r.mu.RLock()
	_, ok := r.conns[key]
	r.mu.RUnlock()
	return ok
}
