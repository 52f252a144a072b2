package session

import (
	"sync"
	"time"

	"wavedeck/logger"
	"wavedeck/model"
	"wavedeck/protocol"

	"github.com/google/uuid"
)

// CleanupFunc 注销时同步执行的清理回调
type CleanupFunc func(client *model.Client)

// Registry 会话注册表，跟踪所有已注册客户端
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*model.Client
	cleanup []CleanupFunc
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*model.Client),
	}
}

// OnDeregister 追加注销清理回调，按注册顺序执行
func (r *Registry) OnDeregister(fn CleanupFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanup = append(r.cleanup, fn)
}

// Register 分配唯一 client_id 并登记客户端。角色注册后不可变更。
func (r *Registry) Register(role model.ClientRole, metadata map[string]string) *model.Client {
	client := &model.Client{
		ID:       uuid.NewString(),
		Role:     role,
		Metadata: metadata,
		LastSeen: time.Now(),
	}

	r.mu.Lock()
	r.clients[client.ID] = client
	total := len(r.clients)
	r.mu.Unlock()

	logger.Info("client registered",
		logger.String("clientId", client.ID),
		logger.String("role", string(role)),
		logger.Int("totalClients", total))

	return client
}

// Lookup 查找客户端
func (r *Registry) Lookup(clientID string) (*model.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[clientID]
	if !ok {
		return nil, protocol.NewCommandError(protocol.CodeNotRegistered, "client not registered: "+clientID)
	}
	return client, nil
}

// Touch 更新客户端活跃时间
func (r *Registry) Touch(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[clientID]; ok {
		client.LastSeen = time.Now()
	}
}

// Deregister 注销客户端并同步执行清理回调。幂等：重复注销是空操作。
func (r *Registry) Deregister(clientID string) {
	r.mu.Lock()
	client, ok := r.clients[clientID]
	if ok {
		delete(r.clients, clientID)
	}
	callbacks := make([]CleanupFunc, len(r.cleanup))
	copy(callbacks, r.cleanup)
	remaining := len(r.clients)
	r.mu.Unlock()

	if !ok {
		return
	}

	// 清理必须运行到底，即使由异常断连触发
	for _, fn := range callbacks {
		fn(client)
	}

	logger.Info("client deregistered",
		logger.String("clientId", clientID),
		logger.Int("remainingClients", remaining))
}

// Count 当前已注册客户端数量
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// List 返回所有已注册客户端的快照
func (r *Registry) List() []*model.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.Client, 0, len(r.clients))
	for _, client := range r.clients {
		result = append(result, client)
	}
	return result
}
