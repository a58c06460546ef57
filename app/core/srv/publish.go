package srv

import (
	"encoding/json"
	"log/slog"

	fireprotocol "github.com/holdno/firetower/protocol"
	"github.com/holdno/firetower/service/tower"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/deckforge/deckforge/pkg/socket/firetower"
	"github.com/deckforge/deckforge/pkg/types"
)

type Tower struct {
	pusher *firetower.SelfPusher[PublishData]
	tower.Manager[PublishData]
	// forwarders tracks which task topics already relay channel events.
	forwarders cmap.ConcurrentMap[string, func()]
}

type PublishData struct {
	Subject string            `json:"subject"`
	Version string            `json:"version"`
	Type    types.WsEventType `json:"type"`
	Data    any               `json:"data"`
}

func (c *PublishData) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte(""), nil
	}
	type alias PublishData
	return json.Marshal((*alias)(c))
}

func (c *PublishData) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == `""` {
		return nil
	}
	type alias PublishData
	return json.Unmarshal(data, (*alias)(c))
}

func SetupSocketSrv() (*Tower, error) {
	tower, pusher, err := firetower.SetupFiretower[PublishData]()
	if err != nil {
		return nil, err
	}

	return &Tower{
		pusher:     pusher,
		Manager:    tower,
		forwarders: cmap.New[func()](),
	}, nil
}

func ApplyTower() ApplyFunc {
	return func(s *Srv) {
		var err error
		if s.tower, err = SetupSocketSrv(); err != nil {
			panic(err)
		}
	}
}

func (t *Tower) NewMessage(topic string, _type fireprotocol.FireOperation, data PublishData) *fireprotocol.FireInfo[PublishData] {
	fire := t.NewFire(fireprotocol.SourceSystem, t.pusher)
	fire.Message.Topic = topic
	fire.Message.Type = _type
	fire.Message.Data = data
	return fire
}

// PublishTaskEvent relays one progress channel event to subscribers of the task topic.
func (t *Tower) PublishTaskEvent(taskID string, eventType types.WsEventType, data any) error {
	return t.publish(types.TaskTopic(taskID), fireprotocol.PublishOperation, PublishData{
		Subject: "on_task_event",
		Version: "v1",
		Type:    eventType,
		Data:    data,
	})
}

func (t *Tower) PublishState(data any) error {
	return t.publish(types.TOWER_TOPIC_STATE, fireprotocol.PublishOperation, PublishData{
		Subject: "on_state",
		Version: "v1",
		Type:    types.WS_EVENT_STORE_STATE,
		Data:    data,
	})
}

func (t *Tower) PublishNotifications(data any) error {
	return t.publish(types.TOWER_TOPIC_NOTIFICATIONS, fireprotocol.PublishOperation, PublishData{
		Subject: "on_notifications",
		Version: "v1",
		Type:    types.WS_EVENT_NOTIFICATIONS,
		Data:    data,
	})
}

func (t *Tower) publish(topic string, _type fireprotocol.FireOperation, data PublishData) error {
	fire := t.NewMessage(topic, _type, data)
	if err := t.Publish(fire); err != nil {
		slog.Warn("failed to publish relay message",
			slog.String("component", "firetower"),
			slog.String("topic", topic),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

// RegisterForwarder remembers the stop func of a task relay. It returns
// false when the task is already relayed.
func (t *Tower) RegisterForwarder(taskID string, stop func()) bool {
	return t.forwarders.SetIfAbsent(taskID, stop)
}

func (t *Tower) StopForwarder(taskID string) {
	if stop, ok := t.forwarders.Pop(taskID); ok {
		stop()
	}
}

func (t *Tower) StopAllForwarders() {
	for taskID := range t.forwarders.Items() {
		t.StopForwarder(taskID)
	}
}
