package progress

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Registry keeps at most one channel per task id.
type Registry struct {
	channels   cmap.ConcurrentMap[string, *Channel]
	newChannel func() *Channel
}

func NewRegistry(newChannel func() *Channel) *Registry {
	return &Registry{
		channels:   cmap.New[*Channel](),
		newChannel: newChannel,
	}
}

// Acquire returns the channel of taskID, creating it without connecting.
// Callers that must not miss early events subscribe before connecting.
func (r *Registry) Acquire(taskID string) *Channel {
	return r.channels.Upsert(taskID, nil, func(exist bool, old, _ *Channel) *Channel {
		if exist && old != nil {
			return old
		}
		return r.newChannel()
	})
}

// Open connects the channel for taskID, creating it on first use. Opening a
// task that already has a channel reconnects that channel.
func (r *Registry) Open(taskID string) (*Channel, error) {
	ch := r.Acquire(taskID)
	if err := ch.Connect(taskID); err != nil {
		r.channels.RemoveCb(taskID, func(_ string, v *Channel, exists bool) bool {
			return exists && v == ch
		})
		return nil, err
	}
	return ch, nil
}

func (r *Registry) Get(taskID string) (*Channel, bool) {
	return r.channels.Get(taskID)
}

// Close disconnects and forgets the channel of taskID.
func (r *Registry) Close(taskID string) bool {
	ch, ok := r.channels.Pop(taskID)
	if !ok {
		return false
	}
	ch.Close()
	return true
}

func (r *Registry) CloseAll() {
	for taskID := range r.channels.Items() {
		r.Close(taskID)
	}
}

func (r *Registry) Count() int {
	return r.channels.Count()
}
