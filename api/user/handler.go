package user

import (
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/guard"
)

type UserHandler struct {
	CookieDomain string
	SessionTTL   time.Duration
	Guard        *guard.Guard
}

type UserLogin struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
