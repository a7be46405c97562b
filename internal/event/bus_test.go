package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	b := NewBus[int]()
	var got []string
	b.Subscribe(func(v int) { got = append(got, "a") })
	b.Subscribe(func(v int) { got = append(got, "b") })

	b.Publish(1)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 2, b.Len())
}

func TestBusUnsubscribe(t *testing.T) {
	b := NewBus[int]()
	var count int
	unsub := b.Subscribe(func(v int) { count += v })

	b.Publish(2)
	unsub()
	unsub()
	b.Publish(3)

	assert.Equal(t, 2, count)
	assert.Equal(t, 0, b.Len())
}

func TestBusUnsubscribeWaitsForDelivery(t *testing.T) {
	b := NewBus[int]()
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	finished := false

	unsub := b.Subscribe(func(int) {
		close(entered)
		<-release
		mu.Lock()
		finished = true
		mu.Unlock()
	})

	go b.Publish(1)
	<-entered

	done := make(chan struct{})
	go func() {
		unsub()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("unsubscribe returned while a delivery was in progress")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
	mu.Lock()
	defer mu.Unlock()
	require.True(t, finished)
}

func TestSpeechLabel(t *testing.T) {
	tests := []struct {
		name   string
		speech Speech
		want   string
	}{
		{"text only", Speech{Sequence: 3, Items: []SpeechItem{Text("Hello "), Text("world")}}, "#3: Hello world"},
		{"commands skipped", Speech{Sequence: 7, Items: []SpeechItem{{Command: "pitch"}, Text("Desktop")}}, "#7: Desktop"},
		{"empty", Speech{Sequence: 1}, "#1: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.speech.Label())
		})
	}
}

func TestGestureIdentifier(t *testing.T) {
	assert.Equal(t, "kb:control+c", Gesture{Identifiers: []string{"kb:control+c", "kb:c"}}.Identifier())
	assert.Equal(t, "", Gesture{}.Identifier())
}
