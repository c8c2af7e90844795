package admin

import (
	"errors"
	"net/http"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/scheduler"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
)

// ScheduledTasksHandler handles API requests for scheduled tasks
type ScheduledTasksHandler struct {
	SchedulerService *scheduler.SchedulerService
}

type ListTasksResponse struct {
	Tasks []scheduler.TaskStatus `json:"tasks"`
}

// ListTasks returns all registered tasks
//
//	@Summary      List scheduled tasks
//	@Tags         admin
//	@Produce      json
//	@Success      200  {object}  ListTasksResponse
//	@Failure      403  {string}  string "Not allowed to manage tasks"
//	@Router       /api/v1/admin/tasks [get]
func (h *ScheduledTasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	user, err := util.GetUser(r)
	if err != nil {
		http.Error(w, "Unable to get user", http.StatusBadRequest)
		return
	}

	if !user.Can(access.CapManageTasks) {
		http.Error(w, "Not allowed to manage tasks", http.StatusForbidden)
		return
	}

	util.WriteJSON(w, http.StatusOK, ListTasksResponse{Tasks: h.SchedulerService.ListTasks()})
}

// RunTask runs a task immediately
//
//	@Summary      Run a scheduled task now
//	@Tags         admin
//	@Produce      json
//	@Param        task_name  path  string  true  "Task name"
//	@Success      200  {object}  map[string]string
//	@Failure      404  {string}  string "Task not found"
//	@Failure      409  {string}  string "Task is already running"
//	@Router       /api/v1/admin/tasks/{task_name}/run [post]
func (h *ScheduledTasksHandler) RunTask(w http.ResponseWriter, r *http.Request) {
	user, err := util.GetUser(r)
	if err != nil {
		http.Error(w, "Unable to get user", http.StatusBadRequest)
		return
	}

	if !user.Can(access.CapManageTasks) {
		http.Error(w, "Not allowed to manage tasks", http.StatusForbidden)
		return
	}

	taskName := r.PathValue("task_name")
	if taskName == "" {
		http.Error(w, "Task name is required", http.StatusBadRequest)
		return
	}
	if _, ok := h.SchedulerService.GetTaskByName(taskName); !ok {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}

	err = h.SchedulerService.RunTaskNow(taskName)
	if err != nil {
		if errors.Is(err, scheduler.ErrTaskRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	util.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Task finished",
	})
}

// RemoveTask unschedules a task until the next restart
func (h *ScheduledTasksHandler) RemoveTask(w http.ResponseWriter, r *http.Request) {
	user, err := util.GetUser(r)
	if err != nil {
		http.Error(w, "Unable to get user", http.StatusBadRequest)
		return
	}

	if !user.Can(access.CapManageTasks) {
		http.Error(w, "Not allowed to manage tasks", http.StatusForbidden)
		return
	}

	taskName := r.PathValue("task_name")
	if taskName == "" {
		http.Error(w, "Task name is required", http.StatusBadRequest)
		return
	}

	if err := h.SchedulerService.RemoveTask(taskName); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	util.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Task removed successfully",
	})
}
