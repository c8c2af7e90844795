package websocket

import (
	"context"
	"errors"
	"net/http"

	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

func (ws *WebSocketHandler) Connect(w http.ResponseWriter, r *http.Request) {
	user, err := util.GetUser(r)
	if err != nil {
		http.Error(w, "Invalid user", http.StatusBadRequest)
		return
	}

	// The upgrade writes the response, so errors past this point are only logged.
	if err := ws.SubscribeChannel(w, r, user.ID); err != nil {
		if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) != -1 {
			return
		}
		ws.logger.Info("websocket closed", zap.Uint("user", user.ID), zap.Error(err))
	}
}
