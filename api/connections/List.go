package connections

import (
	"net/http"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
	"go.uber.org/zap"
)

type ListConnectionsResponse struct {
	Rows []database.WorkspaceConnection `json:"rows"`
}

// List workspace connections
//
//	@Summary      List workspace connections
//	@Description  Lists connections the caller owns or is assigned to. archived=true includes archived ones; scope=all lists every connection for callers allowed to view any.
//	@Tags         connections
//	@Produce      json
//	@Param        archived  query  bool    false  "Include archived connections"
//	@Param        scope     query  string  false  "own (default) or all"
//	@Success      200  {object}  ListConnectionsResponse
//	@Router       /api/v1/connections [get]
func (h *ConnectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	DB, user, err := util.GetDBAndUser(r)
	if err != nil {
		http.Error(w, "Unable to get database or user", http.StatusBadRequest)
		return
	}

	includeArchived := r.URL.Query().Get("archived") == "true"

	var rows []database.WorkspaceConnection
	if r.URL.Query().Get("scope") == "all" {
		if !user.Can(access.CapViewAnyConnection) {
			http.Error(w, "Not allowed to view all connections", http.StatusForbidden)
			return
		}
		rows, err = database.AllConnections(DB, includeArchived)
	} else {
		rows, err = database.ConnectionsVisibleTo(DB, user.ID, includeArchived)
	}
	if err != nil {
		zap.L().Error("list connections", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	util.WriteJSON(w, http.StatusOK, ListConnectionsResponse{Rows: rows})
}
