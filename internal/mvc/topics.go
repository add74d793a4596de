package mvc

import "sync"

// Topics is a FIFO message queue keyed by topic name. Schema change
// callbacks use it to announce that dependent computed state elsewhere must
// be invalidated; the core never interprets message contents.
//
// Each store binding gets its own Topics instance, passed into its
// controllers, so multiple stores in one process do not cross-contaminate.
type Topics struct {
	mu     sync.Mutex
	queues map[string][]any
}

// NewTopics returns an empty message queue.
func NewTopics() *Topics {
	return &Topics{queues: map[string][]any{}}
}

// Push appends a message to the topic's queue.
func (t *Topics) Push(topic string, message any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queues[topic] = append(t.queues[topic], message)
}

// Pop drains the topic's queue, returning its messages in push order.
func (t *Topics) Pop(topic string) []any {
	t.mu.Lock()
	defer t.mu.Unlock()
	messages := t.queues[topic]
	delete(t.queues, topic)
	return messages
}
