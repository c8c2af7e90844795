package admin

import (
	"net/http"
	"strconv"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
	"go.uber.org/zap"
)

type SecurityEventsResponse struct {
	Events []database.SecurityEvent `json:"events"`
}

// SecurityEvents lists the most recent security events
//
//	@Summary      List security events
//	@Tags         admin
//	@Produce      json
//	@Param        limit  query  int  false  "Maximum rows"  default(50)
//	@Success      200  {object}  SecurityEventsResponse
//	@Router       /api/v1/admin/security-events [get]
func (h *AdminHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	DB, user, err := util.GetDBAndUser(r)
	if err != nil {
		http.Error(w, "Unable to get database or user", http.StatusBadRequest)
		return
	}

	if !user.Can(access.CapBlockUsers) {
		http.Error(w, "Not allowed to view security events", http.StatusForbidden)
		return
	}

	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}

	events, err := database.RecentSecurityEvents(DB, limit)
	if err != nil {
		zap.L().Error("list security events", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	util.WriteJSON(w, http.StatusOK, SecurityEventsResponse{Events: events})
}
