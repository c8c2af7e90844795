package messages

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/dispatch"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
	"go.uber.org/zap"
)

type MessagesHandler struct {
	Notifier dispatch.StatusNotifier
	Now      func() time.Time
}

type ListMessagesResponse struct {
	Rows []database.ScheduledMessage `json:"rows"`
}

func (h *MessagesHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// List scheduled messages
//
//	@Summary      List scheduled messages
//	@Description  Lists the caller's messages. Callers allowed to view any message may pass scope=all.
//	@Tags         messages
//	@Produce      json
//	@Param        status  query  string  false  "Filter by status"
//	@Param        scope   query  string  false  "own (default) or all"
//	@Param        limit   query  int     false  "Maximum rows, at most 500"
//	@Success      200  {object}  ListMessagesResponse
//	@Failure      400  {string}  string "Invalid status"
//	@Router       /api/v1/messages [get]
func (h *MessagesHandler) List(w http.ResponseWriter, r *http.Request) {
	DB, user, err := util.GetDBAndUser(r)
	if err != nil {
		http.Error(w, "Unable to get database or user", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	filter := database.MessageFilter{UserID: &user.ID}

	if status := query.Get("status"); status != "" {
		filter.Status = database.MessageStatus(status)
		if !filter.Status.Valid() {
			http.Error(w, "Invalid status", http.StatusBadRequest)
			return
		}
	}
	if query.Get("scope") == "all" {
		if !user.Can(access.CapViewAnyMessage) {
			http.Error(w, "Not allowed to view all messages", http.StatusForbidden)
			return
		}
		filter.UserID = nil
	}
	if limit := query.Get("limit"); limit != "" {
		filter.Limit, err = strconv.Atoi(limit)
		if err != nil {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
	}

	rows, err := database.ListMessages(DB, filter)
	if err != nil {
		zap.L().Error("list messages", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	util.WriteJSON(w, http.StatusOK, ListMessagesResponse{Rows: rows})
}

// Retry a failed message
//
//	@Summary      Retry a failed message
//	@Description  Moves a failed message back to pending, due one minute from now.
//	@Tags         messages
//	@Produce      json
//	@Param        message_uuid  path  string  true  "Message UUID"
//	@Success      200  {object}  database.ScheduledMessage
//	@Failure      403  {string}  string "Not allowed to retry this message"
//	@Failure      404  {string}  string "Message not found"
//	@Failure      409  {string}  string "Only failed messages can be retried"
//	@Router       /api/v1/messages/{message_uuid}/retry [post]
func (h *MessagesHandler) Retry(w http.ResponseWriter, r *http.Request) {
	DB, user, err := util.GetDBAndUser(r)
	if err != nil {
		http.Error(w, "Unable to get database or user", http.StatusBadRequest)
		return
	}

	messageUUID := r.PathValue("message_uuid")
	if messageUUID == "" {
		http.Error(w, "Message UUID is required", http.StatusBadRequest)
		return
	}

	now := h.now()
	msg, err := dispatch.Retry(r.Context(), DB, user, messageUUID, now)
	switch {
	case err == nil:
	case database.IsNotFound(err):
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	case errors.Is(err, dispatch.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case errors.Is(err, dispatch.ErrNotRetryable):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	default:
		zap.L().Error("retry message", zap.String("message", messageUUID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if h.Notifier != nil {
		h.Notifier.MessageStatusChanged(dispatch.StatusChange{
			MessageUUID: msg.UUID,
			UserID:      msg.UserID,
			Status:      msg.Status,
			At:          now.UTC(),
		})
	}
	util.WriteJSON(w, http.StatusOK, msg)
}
