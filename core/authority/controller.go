package authority

import (
	"sync"
	"time"

	"wavedeck/logger"
	"wavedeck/protocol"
)

// State 控制权令牌状态
type State string

const (
	StateUnowned         State = "Unowned"
	StateOwned           State = "Owned"
	StateTakeoverPending State = "TakeoverPending"
)

// WarnFunc 接管开始时通知当前持有者
type WarnFunc func(holderID, challengerID string, timeout time.Duration)

// GrantFunc 持有者变更时通知（含首次claim与释放，旧持有者可能为空）
type GrantFunc func(newHolder, prevHolder string)

// Controller 共享播放输出的单一控制权仲裁。
// 进程内单例，所有状态转换串行执行。
type Controller struct {
	mu         sync.Mutex
	holder     string
	challenger string
	timeout    time.Duration
	timer      *time.Timer

	warnFn  WarnFunc
	grantFn GrantFunc
}

// NewController 创建控制器
func NewController(takeoverTimeout time.Duration) *Controller {
	return &Controller{timeout: takeoverTimeout}
}

// SetCallbacks 设置通知回调
func (c *Controller) SetCallbacks(warn WarnFunc, grant GrantFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnFn = warn
	c.grantFn = grant
}

// Claim 申请控制权，仅在无人持有时有效
func (c *Controller) Claim(clientID string) error {
	c.mu.Lock()

	if c.holder != "" {
		holder := c.holder
		c.mu.Unlock()
		if holder == clientID {
			return protocol.NewCommandError(protocol.CodeAlreadyOwned, "client already holds playback authority")
		}
		return protocol.NewCommandError(protocol.CodeAlreadyOwned,
			"playback authority already owned, use takeover")
	}

	c.holder = clientID
	grant := c.grantFn
	c.mu.Unlock()

	logger.Info("playback authority claimed", logger.String("clientId", clientID))

	if grant != nil {
		grant(clientID, "")
	}
	return nil
}

// Takeover 发起接管。当前持有者会收到限时警告；
// 持有者确认或超时后接管完成，否则回滚。
func (c *Controller) Takeover(challengerID string) error {
	c.mu.Lock()

	if c.holder == "" {
		c.mu.Unlock()
		// 无人持有时直接走claim路径
		return c.Claim(challengerID)
	}
	if c.holder == challengerID {
		c.mu.Unlock()
		return protocol.NewCommandError(protocol.CodeAlreadyOwned, "client already holds playback authority")
	}
	if c.challenger != "" {
		c.mu.Unlock()
		return protocol.NewCommandError(protocol.CodeTakeoverInProgress,
			"another takeover is already pending")
	}

	c.challenger = challengerID
	holder := c.holder
	warn := c.warnFn
	timeout := c.timeout

	// 超时未确认视为默许
	c.timer = time.AfterFunc(timeout, func() {
		c.completeTakeover(challengerID)
	})
	c.mu.Unlock()

	logger.Info("takeover initiated",
		logger.String("holder", holder),
		logger.String("challenger", challengerID),
		logger.Duration("timeout", timeout))

	if warn != nil {
		warn(holder, challengerID, timeout)
	}
	return nil
}

// Acknowledge 当前持有者提前确认接管
func (c *Controller) Acknowledge(clientID string) error {
	c.mu.Lock()
	if c.holder != clientID || c.challenger == "" {
		c.mu.Unlock()
		return protocol.NewCommandError(protocol.CodeUnauthorized,
			"no pending takeover to acknowledge for this client")
	}
	challenger := c.challenger
	c.mu.Unlock()

	c.completeTakeover(challenger)
	return nil
}

// completeTakeover 原子地把控制权移交给challenger。
// 状态已变化（回滚或持有者消失）时是空操作。
func (c *Controller) completeTakeover(challengerID string) {
	c.mu.Lock()

	if c.challenger != challengerID {
		c.mu.Unlock()
		return
	}

	prev := c.holder
	c.holder = challengerID
	c.challenger = ""
	c.stopTimerLocked()
	grant := c.grantFn
	c.mu.Unlock()

	logger.Info("takeover completed",
		logger.String("newHolder", challengerID),
		logger.String("prevHolder", prev))

	if grant != nil {
		grant(challengerID, prev)
	}
}

// Release 释放控制权，仅对当前持有者有效。
// 存在待定接管时视为默许，challenger直接上位。
func (c *Controller) Release(clientID string) error {
	c.mu.Lock()

	if c.holder != clientID {
		c.mu.Unlock()
		return protocol.NewCommandError(protocol.CodeUnauthorized,
			"only the current holder may release playback authority")
	}

	if c.challenger != "" {
		challenger := c.challenger
		c.mu.Unlock()
		c.completeTakeover(challenger)
		return nil
	}

	c.holder = ""
	c.stopTimerLocked()
	grant := c.grantFn
	c.mu.Unlock()

	logger.Info("playback authority released", logger.String("clientId", clientID))

	if grant != nil {
		grant("", clientID)
	}
	return nil
}

// HandleDisconnect 断连清理。持有者消失时待定challenger直接上位；
// challenger消失时回滚到原持有者。
func (c *Controller) HandleDisconnect(clientID string) {
	c.mu.Lock()

	switch clientID {
	case c.holder:
		if c.challenger != "" {
			challenger := c.challenger
			c.mu.Unlock()
			c.completeTakeover(challenger)
			return
		}
		c.holder = ""
		c.stopTimerLocked()
		grant := c.grantFn
		c.mu.Unlock()

		logger.Info("authority released on holder disconnect",
			logger.String("clientId", clientID))

		if grant != nil {
			grant("", clientID)
		}
		return

	case c.challenger:
		// 回滚：原持有者保持不变
		c.challenger = ""
		c.stopTimerLocked()
		c.mu.Unlock()

		logger.Info("pending takeover withdrawn on challenger disconnect",
			logger.String("clientId", clientID))
		return
	}

	c.mu.Unlock()
}

// stopTimerLocked 需要持有锁
func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// IsHolder 判断客户端是否为当前持有者
func (c *Controller) IsHolder(clientID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holder != "" && c.holder == clientID
}

// Holder 当前持有者，无人持有时为空串
func (c *Controller) Holder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holder
}

// Snapshot 当前令牌状态
func (c *Controller) Snapshot() (State, string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.holder == "":
		return StateUnowned, "", ""
	case c.challenger != "":
		return StateTakeoverPending, c.holder, c.challenger
	default:
		return StateOwned, c.holder, ""
	}
}

// Authorize 校验播放类命令的执行权限
func (c *Controller) Authorize(clientID string) error {
	if !c.IsHolder(clientID) {
		return protocol.NewCommandError(protocol.CodeUnauthorized,
			"client does not hold playback authority")
	}
	return nil
}
