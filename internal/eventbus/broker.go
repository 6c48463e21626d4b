package eventbus

import "sync"

// Topic names the logical pub/sub channels used across the service.
type Topic string

const (
	TopicNodeStatus Topic = "node-status" // internal ChangeMsg events
	TopicFileUpload Topic = "file-upload" // cache-side completion notices
	TopicWebSocket  Topic = "web-socket"  // WsServerOperateCommand relays
	TopicRealtime   Topic = "realtime"    // ViewRealtimeCommand relays
)

// QueueTopic returns the per-queue topic name a Queue publishes Task
// payloads and control commands to.
func QueueTopic(queueTopicName string) Topic { return Topic(queueTopicName) }

// Subscriber is a channel that receives messages published on a topic.
type Subscriber chan any

// Broker is a named-topic fan-out broadcaster. Publish feeds a 256-entry
// buffer and blocks only while that buffer is full. Delivery is best-effort:
// a subscriber whose own buffer is full misses the message rather than
// stalling the broker.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Topic]map[Subscriber]bool
	msgCh       chan topicMsg
	stopCh      chan struct{}
}

type topicMsg struct {
	topic   Topic
	payload any
}

// NewBroker creates a new Broker. Call Start before publishing.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Topic]map[Subscriber]bool),
		msgCh:       make(chan topicMsg, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's delivery loop.
func (b *Broker) Start() { go b.run() }

// Stop stops the broker; subsequent Publish calls are no-ops.
func (b *Broker) Stop() { close(b.stopCh) }

// Subscribe returns a buffered channel that receives every message
// published on topic from now on.
func (b *Broker) Subscribe(topic Topic) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[Subscriber]bool)
	}
	b.subscribers[topic][sub] = true
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Broker) Unsubscribe(topic Topic, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers[topic], sub)
	close(sub)
}

// Publish publishes payload on topic. It blocks only while the broker's
// buffer is full, and returns without publishing once Stop has been called.
func (b *Broker) Publish(topic Topic, payload any) {
	select {
	case b.msgCh <- topicMsg{topic: topic, payload: payload}:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case m := <-b.msgCh:
			b.broadcast(m.topic, m.payload)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(topic Topic, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers[topic] {
		select {
		case sub <- payload:
		default:
			// subscriber buffer full; the message is dropped for this subscriber
		}
	}
}
