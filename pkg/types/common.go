package types

import (
	"net/url"
	"strings"
)

type WsEventType int32

const (
	WS_EVENT_UNKNOWN            WsEventType = 0
	WS_EVENT_TASK_STATE         WsEventType = 1   // channel state moved
	WS_EVENT_TASK_PROGRESS      WsEventType = 2   // progress frame
	WS_EVENT_TASK_RECONNECTING  WsEventType = 3   // reconnect scheduled
	WS_EVENT_TASK_COMPLETED     WsEventType = 4   // job finished
	WS_EVENT_TASK_FAILED        WsEventType = 5   // job reported failure
	WS_EVENT_CHANNEL_EXHAUSTED  WsEventType = 6   // reconnects used up
	WS_EVENT_CHANNEL_CLOSED     WsEventType = 7   // server closed before completion
	WS_EVENT_STORE_STATE        WsEventType = 100 // store snapshot
	WS_EVENT_NOTIFICATIONS      WsEventType = 200 // notification list
	WS_EVENT_SYSTEM_ONSUBSCRIBE WsEventType = 300
	WS_EVENT_SYSTEM_UNSUBSCRIBE WsEventType = 301
	WS_EVENT_OTHERS             WsEventType = 400
)

const (
	LANGUAGE_EN_KEY = "en"
	LANGUAGE_CN_KEY = "zh-CN"
)

const (
	TOWER_TOPIC_PREFIX        = "/deckforge/"
	TOWER_TOPIC_STATE         = TOWER_TOPIC_PREFIX + "state"
	TOWER_TOPIC_NOTIFICATIONS = TOWER_TOPIC_PREFIX + "notifications"
	TOWER_TOPIC_TASK_PREFIX   = TOWER_TOPIC_PREFIX + "task/"
)

// TaskTopic is the relay topic carrying the channel events of one task.
func TaskTopic(taskID string) string {
	return TOWER_TOPIC_TASK_PREFIX + url.PathEscape(taskID)
}

// TaskIDFromTopic reverses TaskTopic.
func TaskIDFromTopic(topic string) (string, bool) {
	escaped, ok := strings.CutPrefix(topic, TOWER_TOPIC_TASK_PREFIX)
	if !ok || escaped == "" {
		return "", false
	}
	taskID, err := url.PathUnescape(escaped)
	if err != nil {
		return "", false
	}
	return taskID, true
}
