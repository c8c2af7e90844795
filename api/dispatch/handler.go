package dispatch

import (
	"context"
	"net/http"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/dispatch"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
	"go.uber.org/zap"
)

// Runner runs one dispatch tick. *dispatch.Engine satisfies it.
type Runner interface {
	Tick(ctx context.Context) (dispatch.Result, error)
}

type DispatchHandler struct {
	Engine Runner
}

type RunResponse struct {
	Attempted int       `json:"attempted"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// MsgStoreUnavailable is reported when a tick was cut short by the store.
const MsgStoreUnavailable = "store unavailable"

// Run triggers a dispatch tick outside the regular schedule
//
//	@Summary      Run a dispatch tick
//	@Description  Delivers every due message. Accepts the dispatch bearer secret or a session allowed to trigger dispatch. An aborted tick still reports what it processed.
//	@Tags         dispatch
//	@Produce      json
//	@Success      200  {object}  RunResponse
//	@Failure      401  {string}  string "Unauthorized"
//	@Failure      500  {object}  RunResponse "Partial counts of an aborted tick"
//	@Failure      503  {string}  string "Dispatch trigger disabled"
//	@Router       /api/v1/dispatch/run [post]
func (h *DispatchHandler) Run(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.Tick(r.Context())

	resp := RunResponse{
		Attempted: result.Attempted,
		Sent:      result.Sent,
		Failed:    result.Failed,
		Skipped:   result.Skipped,
		Timestamp: result.FinishedAt,
	}
	if err != nil {
		zap.L().Error("dispatch run aborted",
			zap.Int("attempted", result.Attempted),
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.Error(err))
		resp.Error = MsgStoreUnavailable
		util.WriteJSON(w, http.StatusInternalServerError, resp)
		return
	}

	util.WriteJSON(w, http.StatusOK, resp)
}
