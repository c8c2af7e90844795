package user

import (
	"net/http"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/api"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
)

// Logout a user
//
//	@Summary      Logout a user
//	@Description  Invalidates the user's session token
//	@Tags         user
//	@Success      200  {string}  string	"Logout successful"
//	@Failure      401  {string}  string	"Unauthorized"
//	@Router       /api/v1/user/logout [post]
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	DB, err := util.GetDB(r)
	if err != nil {
		http.Error(w, "Unable to get database", http.StatusInternalServerError)
		return
	}

	token := api.SessionTokenFromRequest(r)
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := database.DeleteSession(DB, token); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, api.CreateSessionToken(r, h.CookieDomain, "", time.Time{}))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Logout successful"))
}
