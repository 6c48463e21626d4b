package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToAllSubscribersOfATopic(t *testing.T) {
	b := NewBroker()
	b.Start()
	t.Cleanup(b.Stop)

	subA := b.Subscribe(TopicFileUpload)
	subB := b.Subscribe(TopicFileUpload)
	other := b.Subscribe(TopicRealtime)

	b.Publish(TopicFileUpload, "hello")

	for _, sub := range []Subscriber{subA, subB} {
		select {
		case msg := <-sub:
			assert.Equal(t, "hello", msg)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for published message")
		}
	}

	select {
	case msg := <-other:
		t.Fatalf("unexpected message on unrelated topic: %v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	t.Cleanup(b.Stop)

	sub := b.Subscribe(TopicNodeStatus)
	b.Unsubscribe(TopicNodeStatus, sub)

	_, open := <-sub
	assert.False(t, open)
}

func TestBrokerPublishAfterStopDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()

	done := make(chan struct{})
	go func() {
		b.Publish(TopicFileUpload, "ignored")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked after Stop")
	}
}

func TestQueueTopicWrapsName(t *testing.T) {
	require.Equal(t, Topic("gpu-queue"), QueueTopic("gpu-queue"))
}
