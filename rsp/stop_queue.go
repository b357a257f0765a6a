package rsp

import (
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// stopItem 读协程收到的停止回复，或者加载时已解析的入口停止事件
// event不为nil时分发完成后关闭done
type stopItem struct {
	payload string
	event   *StopEvent
	done    chan struct{}
}

// stopQueue 无界队列，读协程只负责入队，由分发协程消费
type stopQueue struct {
	lock   sync.Mutex
	cond   *sync.Cond
	queue  *linkedlistqueue.Queue
	closed bool
}

func newStopQueue() *stopQueue {
	q := &stopQueue{queue: linkedlistqueue.New()}
	q.cond = sync.NewCond(&q.lock)
	return q
}

// Push 入队，队列关闭后返回false
func (q *stopQueue) Push(item stopItem) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed {
		return false
	}
	q.queue.Enqueue(item)
	q.cond.Signal()
	return true
}

// Pop 阻塞直到有数据，队列关闭且为空时返回false
func (q *stopQueue) Pop() (stopItem, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	for q.queue.Empty() && !q.closed {
		q.cond.Wait()
	}
	v, ok := q.queue.Dequeue()
	if !ok {
		return stopItem{}, false
	}
	return v.(stopItem), true
}

func (q *stopQueue) Close() {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
