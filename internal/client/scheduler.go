package client

import "time"

// Timer 可取消的定时任务
type Timer interface {
	Stop() bool
}

// Scheduler 定时任务调度；回调总是在会话线程上执行
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// loopScheduler 基于 time.AfterFunc，到期后把回调投递到会话 inbox
type loopScheduler struct {
	post func(func())
}

type loopTimer struct {
	timer   *time.Timer
	stopped bool // 只在会话线程读写
}

func (s loopScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		s.post(func() {
			// 已投递但尚未执行时被取消，这里直接丢弃
			if t.stopped {
				return
			}
			t.stopped = true
			fn()
		})
	})
	return t
}

func (t *loopTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	t.timer.Stop()
	return true
}
