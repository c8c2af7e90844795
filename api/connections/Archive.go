package connections

import (
	"errors"
	"net/http"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
	"github.com/Programmerfd54/rocket-shelduer-sub002/workspace"
	"go.uber.org/zap"
)

type ArchiveConnectionResponse struct {
	ConnectionUUID  string    `json:"connection_uuid"`
	Cancelled       int64     `json:"cancelled"`
	ArchiveDeleteAt time.Time `json:"archive_delete_at"`
}

// Archive a workspace connection
//
//	@Summary      Archive a workspace connection
//	@Description  Drops the cached session and cancels every pending message in one transaction. The connection is deleted after the retention period.
//	@Tags         connections
//	@Produce      json
//	@Param        connection_uuid  path  string  true  "Connection UUID"
//	@Success      200  {object}  ArchiveConnectionResponse
//	@Failure      403  {string}  string "Not allowed to archive this connection"
//	@Failure      404  {string}  string "Connection not found"
//	@Failure      409  {string}  string "Connection is archived"
//	@Router       /api/v1/connections/{connection_uuid}/archive [post]
func (h *ConnectionsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	DB, user, err := util.GetDBAndUser(r)
	if err != nil {
		http.Error(w, "Unable to get database or user", http.StatusBadRequest)
		return
	}

	conn, ok := h.target(w, r, DB, user)
	if !ok {
		return
	}
	if !workspace.CanArchive(user, conn) {
		if h.Guard != nil {
			h.Guard.Record(r, database.EventPermissionDenied, "archive "+conn.UUID, &user.ID)
		}
		http.Error(w, "Not allowed to archive this connection", http.StatusForbidden)
		return
	}

	now := h.now().UTC()
	cancelled, err := database.ArchiveConnection(DB, conn.ID, now, h.Retention)
	if err != nil {
		if errors.Is(err, database.ErrConnectionArchived) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		zap.L().Error("archive connection", zap.Uint("connection", conn.ID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	zap.L().Info("connection archived",
		zap.Uint("connection", conn.ID),
		zap.Uint("by", user.ID),
		zap.Int64("cancelled", cancelled))

	util.WriteJSON(w, http.StatusOK, ArchiveConnectionResponse{
		ConnectionUUID:  conn.UUID,
		Cancelled:       cancelled,
		ArchiveDeleteAt: now.Add(h.Retention),
	})
}
