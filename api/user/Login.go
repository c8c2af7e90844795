package user

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/api"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
	"go.uber.org/zap"
)

// Login a user
//
//	@Summary      Login a user
//	@Description  Authenticate with email and password and receive a session cookie
//	@Tags         user
//	@Accept       json
//	@Produce      json
//	@Param        request body UserLogin true "Login credentials"
//	@Success      200  {object}  database.User
//	@Failure      400  {string}  string "Invalid email or password"
//	@Failure      401  {string}  string "Invalid email or password"
//	@Router       /api/v1/user/login [post]
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	const defaultErrorMessage = "Invalid email or password"

	DB, err := util.GetDB(r)
	if err != nil {
		http.Error(w, "Unable to get database", http.StatusBadRequest)
		return
	}

	var data UserLogin
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if data.Email == "" || data.Password == "" {
		http.Error(w, defaultErrorMessage, http.StatusBadRequest)
		return
	}

	user, err := database.Authenticate(DB, data.Email, data.Password)
	if err != nil {
		if h.Guard != nil {
			h.Guard.Record(r, database.EventLoginFailed, "", nil)
		}
		http.Error(w, defaultErrorMessage, http.StatusUnauthorized)
		return
	}

	ttl := h.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	expiry := time.Now().Add(ttl)
	token := api.GenerateToken()
	if _, err := database.CreateSession(DB, user.ID, token, expiry); err != nil {
		zap.L().Error("create session", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, api.CreateSessionToken(r, h.CookieDomain, token, expiry))
	util.WriteJSON(w, http.StatusOK, user)
}
