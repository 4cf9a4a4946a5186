package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub(1, nil)
	a, releaseA := hub.Subscribe()
	b, releaseB := hub.Subscribe()
	defer releaseB()

	hub.Publish(Event{Type: EventQuota})
	hub.Publish(Event{Type: EventConfig}) // dropped: buffers hold one event

	evA := <-a
	evB := <-b
	assert.Equal(t, EventQuota, evA.Type)
	assert.Equal(t, EventQuota, evB.Type)
	assert.False(t, evA.At.IsZero())

	releaseA()
	releaseA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, hub.Subscribers())

	hub.Close()
	_, open = <-b
	assert.False(t, open)

	c, releaseC := hub.Subscribe()
	defer releaseC()
	_, open = <-c
	require.False(t, open)
	hub.Publish(Event{Type: EventAudit})
}
