package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatmodel "github.com/zhouzirui/chzzk-tts/internal/model/chat"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelB()
	require.Equal(t, 2, hub.Subscribers())

	hub.Publish(chatmodel.Event{Kind: chatmodel.KindChat, Text: "hi"})
	assert.Equal(t, "hi", (<-a).Text)
	assert.Equal(t, "hi", (<-b).Text)

	cancelA()
	cancelA()
	assert.Equal(t, 1, hub.Subscribers())
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish(chatmodel.Event{Text: "x"})
	}
	assert.Len(t, ch, subscriberBuffer)
}
