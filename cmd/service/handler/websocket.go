package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/holdno/firetower/protocol"

	"github.com/deckforge/deckforge/app/core"
	"github.com/deckforge/deckforge/app/core/srv"
	v1 "github.com/deckforge/deckforge/app/logic/v1"
	"github.com/deckforge/deckforge/app/response"
	"github.com/deckforge/deckforge/pkg/errors"
	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/types"
	"github.com/deckforge/deckforge/pkg/utils"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Websocket relays store snapshots, notifications and channel events of
// subscribed task topics to monitor clients. Clients can only subscribe.
func Websocket(core *core.Core) func(c *gin.Context) {
	if core.Srv().Tower() == nil {
		return func(c *gin.Context) {
			response.APIError(c, errors.New("api.Websocket", i18n.ERROR_INTERNAL, nil).Code(http.StatusNotImplemented))
		}
	}
	return func(c *gin.Context) {
		tower := core.Srv().Tower()

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Websocket Upgrade err", slog.String("component", "firetower"), slog.String("error", err.Error()))
			return
		}

		thisTower, err := tower.BuildTower(ws, utils.GenRandomID())
		if err != nil {
			slog.Error("failed to build firetower", slog.String("component", "firetower"), slog.String("error", err.Error()))
			ws.Close()
			return
		}
		thisTower.SetUserID(c.ClientIP())

		thisTower.SetReadHandler(func(fire protocol.ReadOnlyFire[srv.PublishData]) bool {
			return false
		})

		thisTower.SetReceivedHandler(func(fi protocol.ReadOnlyFire[srv.PublishData]) bool {
			raw, err := json.Marshal(fi.GetMessage())
			if err != nil {
				slog.Error("failed to marshal firetower received message", slog.String("component", "firetower"), slog.String("error", err.Error()))
				return false
			}
			thisTower.SendToClient(raw)
			return false
		})

		thisTower.SetReadTimeoutHandler(func(fire protocol.ReadOnlyFire[srv.PublishData]) {
			slog.Warn("read timeout trigger", slog.String("component", "firetower"))
		})

		thisTower.SetBeforeSubscribeHandler(func(fireCtx protocol.FireLife, topics []string) bool {
			for _, v := range topics {
				if !strings.HasPrefix(v, types.TOWER_TOPIC_PREFIX) {
					return false
				}
				if strings.HasPrefix(v, types.TOWER_TOPIC_TASK_PREFIX) {
					if _, ok := types.TaskIDFromTopic(v); !ok {
						return false
					}
				}
			}
			return true
		})

		relay := v1.NewRelayLogic(context.Background(), core)
		thisTower.SetSubscribeHandler(func(fireCtx protocol.FireLife, topics []string) {
			for _, v := range topics {
				if taskID, ok := types.TaskIDFromTopic(v); ok {
					relay.ForwardTask(taskID)
				}
				sendTopicAck(thisTower.SendToClient, v, protocol.SubscribeOperation)
			}
		})

		thisTower.SetUnSubscribeHandler(func(fireCtx protocol.FireLife, topics []string) {
			for _, v := range topics {
				sendTopicAck(thisTower.SendToClient, v, protocol.UnSubscribeOperation)
			}
		})

		thisTower.Run()
	}
}

func sendTopicAck(send func([]byte), topic string, op protocol.FireOperation) {
	resp := &protocol.TopicMessage[json.RawMessage]{
		Topic: topic,
		Type:  op,
		Data:  json.RawMessage(`{"status":"success"}`),
	}
	msg, _ := json.Marshal(resp)
	send(msg)
}
