package hls

import (
	"fmt"
	"sync"

	"wavedeck/protocol"
)

// Pool 编码进程的准入控制。每个运行中的编码进程占用一个槽位。
type Pool struct {
	mu     sync.Mutex
	active int
	max    int
}

// NewPool 创建资源池
func NewPool(max int) *Pool {
	if max < 1 {
		max = 1
	}
	return &Pool{max: max}
}

// Acquire 获取一个槽位，池满时返回 ResourceExhausted 且计数不变
func (p *Pool) Acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active >= p.max {
		return protocol.NewCommandError(protocol.CodeResourceExhausted,
			fmt.Sprintf("encoder pool saturated: %d/%d slots in use", p.active, p.max))
	}
	p.active++
	return nil
}

// Release 释放一个槽位。每个获取的槽位恰好释放一次，包括异常退出路径。
func (p *Pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active > 0 {
		p.active--
	}
}

// Active 当前占用的槽位数
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Max 槽位上限
func (p *Pool) Max() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}
