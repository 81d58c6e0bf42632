package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventBroker(t *testing.T) {
	t.Run("fan out", func(t *testing.T) {
		broker := newEventBroker()
		defer broker.Close()

		first, cancelFirst := broker.Subscribe()
		second, cancelSecond := broker.Subscribe()
		defer cancelFirst()
		defer cancelSecond()

		broker.Publish(RoundStarted{Id: "round-1"})

		require.Equal(t, "round-1", (<-first).RoundId())
		require.Equal(t, "round-1", (<-second).RoundId())
	})

	t.Run("slow subscriber misses events", func(t *testing.T) {
		broker := newEventBroker()
		defer broker.Close()

		sub, cancel := broker.Subscribe()
		defer cancel()

		for i := 0; i < eventChannelSize+10; i++ {
			broker.Publish(RoundStarted{Id: "round"})
		}

		received := 0
		for len(sub) > 0 {
			<-sub
			received++
		}
		require.Equal(t, eventChannelSize, received)
	})

	t.Run("unsubscribe closes the channel", func(t *testing.T) {
		broker := newEventBroker()
		defer broker.Close()

		sub, cancel := broker.Subscribe()
		cancel()

		_, ok := <-sub
		require.False(t, ok)
	})

	t.Run("publish after close is a noop", func(t *testing.T) {
		broker := newEventBroker()
		sub, _ := broker.Subscribe()
		broker.Close()

		broker.Publish(RoundStarted{Id: "round"})
		_, ok := <-sub
		require.False(t, ok)
	})
}

func TestInputQueue(t *testing.T) {
	t.Run("fifo", func(t *testing.T) {
		queue := newInputQueue()
		defer queue.Close()

		queue.Push(RegisterIntent{Proof: []byte{1}})
		queue.Push(RegisterIntent{Proof: []byte{2}})
		queue.Push(SubmitSignatures{RoundId: "round-1"})

		require.Equal(t, RegisterIntent{Proof: []byte{1}}, <-queue.C())
		require.Equal(t, RegisterIntent{Proof: []byte{2}}, <-queue.C())
		require.Equal(t, SubmitSignatures{RoundId: "round-1"}, <-queue.C())
	})

	t.Run("push never blocks", func(t *testing.T) {
		queue := newInputQueue()
		defer queue.Close()

		done := make(chan struct{})
		go func() {
			for i := 0; i < 1000; i++ {
				queue.Push(RegisterIntent{})
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("push blocked with no consumer")
		}

		for i := 0; i < 1000; i++ {
			<-queue.C()
		}
	})

	t.Run("close ends the consumer channel", func(t *testing.T) {
		queue := newInputQueue()
		queue.Close()

		_, ok := <-queue.C()
		require.False(t, ok)
	})
}
