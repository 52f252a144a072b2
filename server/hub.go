package server

import (
	"encoding/json"
	"sync"
	"time"

	"wavedeck/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 16384
	sendBufferSize = 64
)

// Conn 单个WebSocket连接
type Conn struct {
	ws   *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	clientID string // 注册成功后绑定
	closed   bool

	closeOnce sync.Once
}

// newConn 包装连接
func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
	}
}

// ClientID 返回绑定的client_id，未注册时为空串
func (c *Conn) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// bind 绑定client_id，注册成功后调用一次
func (c *Conn) bind(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientID = clientID
}

// SendJSON 序列化并发送消息。发送缓冲满时丢弃，不阻塞调用方。
func (c *Conn) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}

	select {
	case c.send <- data:
		return nil
	default:
		logger.Warn("send buffer full, dropping message",
			logger.String("clientId", c.clientID))
		return nil
	}
}

// Close 关闭连接。之后的SendJSON静默丢弃。
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

// WritePump 写入消息循环，定时发送心跳
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub 已注册连接的管理中心
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn // clientID -> 连接
}

// NewHub 创建Hub
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*Conn),
	}
}

// Bind 登记已注册客户端的连接
func (h *Hub) Bind(clientID string, conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[clientID] = conn
}

// Unbind 移除连接
func (h *Hub) Unbind(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, clientID)
}

// SendToClient 向指定客户端发送消息
func (h *Hub) SendToClient(clientID string, v interface{}) error {
	h.mu.RLock()
	conn := h.conns[clientID]
	h.mu.RUnlock()

	if conn == nil {
		return nil // 客户端已断开，消息静默丢弃
	}
	return conn.SendJSON(v)
}

// Count 已注册连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ClientIDs 所有已注册连接的client_id
func (h *Hub) ClientIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	return ids
}
