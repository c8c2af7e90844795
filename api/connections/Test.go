package connections

import (
	"errors"
	"net/http"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/dispatch"
	"github.com/Programmerfd54/rocket-shelduer-sub002/rocketchat"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
	"github.com/Programmerfd54/rocket-shelduer-sub002/vault"
	"github.com/Programmerfd54/rocket-shelduer-sub002/workspace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type TestConnectionResponse struct {
	ConnectionUUID string     `json:"connection_uuid"`
	IsActive       bool       `json:"is_active"`
	LastCheckedAt  *time.Time `json:"last_checked_at,omitempty"`
}

// Test a workspace connection
//
//	@Summary      Test a workspace connection
//	@Description  Checks the session the caller would use for this workspace and records liveness. An owner without a session logs in again with the stored credentials.
//	@Tags         connections
//	@Produce      json
//	@Param        connection_uuid  path  string  true  "Connection UUID"
//	@Success      200  {object}  TestConnectionResponse
//	@Failure      404  {string}  string "Connection not found"
//	@Failure      409  {string}  string "No usable session for this workspace"
//	@Failure      502  {string}  string "Workspace unreachable"
//	@Router       /api/v1/connections/{connection_uuid}/test [post]
func (h *ConnectionsHandler) Test(w http.ResponseWriter, r *http.Request) {
	DB, user, err := util.GetDBAndUser(r)
	if err != nil {
		http.Error(w, "Unable to get database or user", http.StatusBadRequest)
		return
	}

	target, ok := h.target(w, r, DB, user)
	if !ok {
		return
	}
	if target.IsArchived {
		http.Error(w, database.ErrConnectionArchived.Error(), http.StatusConflict)
		return
	}

	conn, ok, err := workspace.ResolveTarget(r.Context(), DB, user.ID, target)
	if err != nil {
		zap.L().Error("resolve connection", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !ok {
		if target.UserID != user.ID {
			http.Error(w, "No usable session for this workspace", http.StatusConflict)
			return
		}
		conn = target
	}

	client := h.NewClient(conn.BaseURL)
	if !conn.HasSession() {
		if !h.relogin(w, r, DB, client, conn) {
			return
		}
	}

	live, err := workspace.CheckLiveness(r.Context(), DB, conn, client, h.now())
	if err != nil {
		if rocketchat.IsTransport(err) {
			http.Error(w, dispatch.MsgUnreachable, http.StatusBadGateway)
			return
		}
		if rocketchat.IsSemantic(err) {
			http.Error(w, dispatch.MsgRejected, http.StatusBadGateway)
			return
		}
		zap.L().Error("check connection", zap.Uint("connection", conn.ID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	util.WriteJSON(w, http.StatusOK, TestConnectionResponse{
		ConnectionUUID: conn.UUID,
		IsActive:       live,
		LastCheckedAt:  conn.LastCheckedAt,
	})
}

// relogin restores the session of an owned connection from its stored
// password. A rejected login leaves the connection inactive and is not an
// error for the caller; the liveness check reports it.
func (h *ConnectionsHandler) relogin(w http.ResponseWriter, r *http.Request, DB *gorm.DB, client Workspace, conn *database.WorkspaceConnection) bool {
	password, err := h.Vault.Decrypt(conn.EncryptedPassword)
	if err != nil {
		if errors.Is(err, vault.ErrDecryptionFailed) && h.Guard != nil {
			h.Guard.Record(r, database.EventDecryptionFailure, "connection "+conn.UUID, &conn.UserID)
		}
		http.Error(w, dispatch.MsgCredentials, http.StatusInternalServerError)
		return false
	}

	session, err := client.Login(r.Context(), conn.Username, password)
	switch {
	case err == nil:
		if err := database.SaveSession(DB, conn, session.Token, session.UserID, h.now()); err != nil {
			zap.L().Error("save workspace session", zap.Uint("connection", conn.ID), zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return false
		}
	case rocketchat.IsTransport(err):
		http.Error(w, dispatch.MsgUnreachable, http.StatusBadGateway)
		return false
	default:
		if h.Guard != nil {
			h.Guard.Record(r, database.EventLoginFailed, "workspace "+conn.NormalizedURL, &conn.UserID)
		}
	}
	return true
}
