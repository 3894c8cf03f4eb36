package limiter

import (
	"sync"
	"time"
)

// SessionLimiter 以固定窗口计数限制单个会话的事件频率。
// 窗口到期后计数归零；计数器跨会话可见，便于聚合观测。
type SessionLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	size    time.Duration
	ceiling int
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

func New(size time.Duration, ceiling int) *SessionLimiter {
	return &SessionLimiter{
		windows: make(map[string]*window),
		size:    size,
		ceiling: ceiling,
		now:     time.Now,
	}
}

// Allow 对该会话的当前窗口计数加一，超过上限时拒绝。
func (l *SessionLimiter) Allow(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w, ok := l.windows[sessionID]
	if !ok || now.Sub(w.start) >= l.size {
		w = &window{start: now}
		l.windows[sessionID] = w
	}
	if w.count >= l.ceiling {
		return false
	}
	w.count++
	return true
}

// Count 返回该会话当前窗口内已计的事件数。
func (l *SessionLimiter) Count(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[sessionID]
	if !ok || l.now().Sub(w.start) >= l.size {
		return 0
	}
	return w.count
}

// Snapshot 返回所有会话的当前窗口计数，供聚合限流与指标使用。
func (l *SessionLimiter) Snapshot() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	out := make(map[string]int, len(l.windows))
	for id, w := range l.windows {
		if now.Sub(w.start) >= l.size {
			continue
		}
		out[id] = w.count
	}
	return out
}

// Forget 清除会话的计数，在断连清理路径调用。
func (l *SessionLimiter) Forget(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, sessionID)
}
