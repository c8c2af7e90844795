package user

import (
	"net/http"

	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
)

// Self returns the current user's details.
//
//	@Summary      Get current user
//	@Tags         user
//	@Produce      json
//	@Success      200 {object} database.User "Current user details"
//	@Router       /api/v1/user/self [get]
func (h *UserHandler) Self(w http.ResponseWriter, r *http.Request) {
	user, err := util.GetUser(r)
	if err != nil {
		http.Error(w, "Invalid user", http.StatusBadRequest)
		return
	}

	util.WriteJSON(w, http.StatusOK, user) // password_hash is not included (database.User)
}
