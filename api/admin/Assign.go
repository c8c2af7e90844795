package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AssignConnection struct {
	UserUUID string `json:"user_uuid"`
}

// AssignConnection lets another principal see and target a connection
//
//	@Summary      Assign a connection
//	@Description  Assignees may open the connection but act with their own session for the same workspace.
//	@Tags         admin
//	@Accept       json
//	@Produce      json
//	@Param        connection_uuid  path  string            true  "Connection UUID"
//	@Param        request          body  AssignConnection  true  "Assignee"
//	@Success      200  {object}  map[string]string
//	@Failure      404  {string}  string "Connection or user not found"
//	@Failure      409  {string}  string "Connection is archived"
//	@Router       /api/v1/admin/connections/{connection_uuid}/assign [post]
func (h *AdminHandler) AssignConnection(w http.ResponseWriter, r *http.Request) {
	DB, conn, assignee, ok := h.assignmentTarget(w, r)
	if !ok {
		return
	}
	user, _ := util.GetUser(r)

	if err := database.AssignConnection(DB, conn, assignee.ID, user.ID); err != nil {
		switch {
		case errors.Is(err, database.ErrSelfAssignment):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, database.ErrConnectionArchived):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			zap.L().Error("assign connection", zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	util.WriteJSON(w, http.StatusOK, map[string]string{
		"connection_uuid": conn.UUID,
		"user_uuid":       assignee.UUID,
	})
}

// UnassignConnection removes an assignment
//
//	@Summary      Unassign a connection
//	@Tags         admin
//	@Accept       json
//	@Param        connection_uuid  path  string            true  "Connection UUID"
//	@Param        request          body  AssignConnection  true  "Assignee"
//	@Success      204
//	@Router       /api/v1/admin/connections/{connection_uuid}/assign [delete]
func (h *AdminHandler) UnassignConnection(w http.ResponseWriter, r *http.Request) {
	DB, conn, assignee, ok := h.assignmentTarget(w, r)
	if !ok {
		return
	}

	if err := database.UnassignConnection(DB, conn.ID, assignee.ID); err != nil {
		zap.L().Error("unassign connection", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) assignmentTarget(w http.ResponseWriter, r *http.Request) (*gorm.DB, *database.WorkspaceConnection, *database.User, bool) {
	DB, user, err := util.GetDBAndUser(r)
	if err != nil {
		http.Error(w, "Unable to get database or user", http.StatusBadRequest)
		return nil, nil, nil, false
	}

	if !user.Can(access.CapAssignConnections) {
		if h.Guard != nil {
			h.Guard.Record(r, database.EventPermissionDenied, "assign connection", &user.ID)
		}
		http.Error(w, "Not allowed to assign connections", http.StatusForbidden)
		return nil, nil, nil, false
	}

	var data AssignConnection
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data.UserUUID == "" {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return nil, nil, nil, false
	}

	conn, err := database.FindConnectionByUUID(DB, r.PathValue("connection_uuid"))
	if err != nil {
		if database.IsNotFound(err) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return nil, nil, nil, false
		}
		zap.L().Error("find connection", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, nil, nil, false
	}

	assignee, err := database.FindUserByUUID(DB, data.UserUUID)
	if err != nil {
		if database.IsNotFound(err) {
			http.Error(w, "User not found", http.StatusNotFound)
			return nil, nil, nil, false
		}
		zap.L().Error("find user", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, nil, nil, false
	}

	return DB, conn, assignee, true
}
