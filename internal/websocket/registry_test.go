package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamRegistrySubscribe(t *testing.T) {
	r := NewStreamRegistry()

	r.Subscribe("dev-1", "conn-a")
	r.Subscribe("dev-1", "conn-b")
	r.Subscribe("dev-2", "conn-a")

	assert.True(t, r.IsSubscribed("dev-1", "conn-a"))
	assert.True(t, r.IsSubscribed("dev-1", "conn-b"))
	assert.ElementsMatch(t, []string{"conn-a", "conn-b"}, r.Subscribers("dev-1"))
	assert.Equal(t, 2, r.ConnectionCount("conn-a"))
	assert.Equal(t, 3, r.Size())
}

func TestStreamRegistrySubscribeIsIdempotent(t *testing.T) {
	r := NewStreamRegistry()

	r.Subscribe("dev-1", "conn-a")
	r.Subscribe("dev-1", "conn-a")

	assert.Len(t, r.Subscribers("dev-1"), 1)
	assert.Equal(t, 1, r.Size())
}

func TestStreamRegistryUnsubscribePrunesEmptyDevices(t *testing.T) {
	r := NewStreamRegistry()

	r.Subscribe("dev-1", "conn-a")
	r.Unsubscribe("dev-1", "conn-a")

	assert.False(t, r.IsSubscribed("dev-1", "conn-a"))
	assert.Empty(t, r.Subscribers("dev-1"))
	assert.Equal(t, 0, r.Size())

	// Unsubscribing again is a no-op
	r.Unsubscribe("dev-1", "conn-a")
	assert.Equal(t, 0, r.Size())
}

func TestStreamRegistryRemoveConnection(t *testing.T) {
	r := NewStreamRegistry()

	r.Subscribe("dev-1", "conn-a")
	r.Subscribe("dev-2", "conn-a")
	r.Subscribe("dev-2", "conn-b")

	r.RemoveConnection("conn-a")

	assert.Equal(t, 0, r.ConnectionCount("conn-a"))
	assert.True(t, r.IsSubscribed("dev-2", "conn-b"))
	assert.Equal(t, 1, r.Size())
}
