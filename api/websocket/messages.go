package websocket

import (
	"encoding/json"

	"github.com/Programmerfd54/rocket-shelduer-sub002/dispatch"
)

type Messages struct{}

type MessageStatus struct {
	Type    string                `json:"type"`
	Content dispatch.StatusChange `json:"content"`
}

func (m *Messages) MessageStatus(change dispatch.StatusChange) []byte {
	encMsg, _ := json.Marshal(MessageStatus{
		Type:    "message_status",
		Content: change,
	})
	return encMsg
}

// MessageStatusChanged lets the hub serve as the dispatch status notifier.
func (cs *WebSocketHandler) MessageStatusChanged(change dispatch.StatusChange) {
	cs.PublishInChannel(cs.MessageHandler.MessageStatus(change), change.UserID)
}
