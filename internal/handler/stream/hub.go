package stream

import (
	"sync"

	chatmodel "github.com/zhouzirui/chzzk-tts/internal/model/chat"
)

const subscriberBuffer = 16

// Hub 将聊天事件分发给 SSE 订阅者。Publish 不会阻塞，
// 跟不上的订阅者会丢失事件而不会拖慢读取。
type Hub struct {
	mu   sync.RWMutex
	subs map[chan chatmodel.Event]struct{}
}

// NewHub 创建空的 Hub
func NewHub() *Hub {
	return &Hub{subs: make(map[chan chatmodel.Event]struct{})}
}

// Publish 将事件投递给缓冲区有空位的订阅者
func (h *Hub) Publish(e chatmodel.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe 注册订阅者，结束时必须调用返回的 cancel
func (h *Hub) Subscribe() (<-chan chatmodel.Event, func()) {
	ch := make(chan chatmodel.Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers 返回当前订阅者数量
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
