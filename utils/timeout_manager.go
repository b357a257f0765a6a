package utils

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// TimeoutManager 一个计时器
// 如果在timeout时间内没有执行Reset或Cancel，就会执行fun函数
type TimeoutManager struct {
	clock   clock.Clock
	lock    sync.Mutex
	timer   *clock.Timer
	timeout time.Duration
	fun     func()
}

// NewTimeoutManager 创建一个新的计时器实例，clock为nil时使用真实时钟
func NewTimeoutManager(c clock.Clock) *TimeoutManager {
	if c == nil {
		c = clock.New()
	}
	return &TimeoutManager{clock: c}
}

// Start 开始计时
// timeout小于等于0时不计时
func (t *TimeoutManager) Start(timeout time.Duration, fun func()) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if timeout <= 0 {
		return
	}
	t.timeout = timeout
	t.fun = fun
	t.timer = t.clock.AfterFunc(timeout, func() {
		logrus.Infof("[TimeoutManager] Timer expired, performing action")
		fun()
	})
}

// Reset 重置计时器
func (t *TimeoutManager) Reset() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.timer != nil {
		t.timer.Reset(t.timeout)
	}
}

// Cancel 取消计时
func (t *TimeoutManager) Cancel() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
