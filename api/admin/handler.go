package admin

import (
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/guard"
)

type AdminHandler struct {
	Guard     *guard.Guard
	Retention time.Duration
	Now       func() time.Time
}

func (h *AdminHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
