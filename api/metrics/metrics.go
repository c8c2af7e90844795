package metrics

import (
	"net/http"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/scheduler"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Metrics struct {
	Messages    map[database.MessageStatus]int64 `json:"messages"`
	Overdue     int64                            `json:"overdue"`
	OldestDue   *time.Time                       `json:"oldest_due,omitempty"`
	Connections ConnectionInfo                   `json:"connections"`
	Tasks       []scheduler.TaskStatus           `json:"tasks,omitempty"`
	Subscribers int                              `json:"subscribers"`
}

type ConnectionInfo struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Archived int64 `json:"archived"`
}

// SubscriberCounter reports connected status stream clients.
type SubscriberCounter interface {
	SubscriberCount() int
}

type MetricsHandler struct {
	Scheduler   *scheduler.SchedulerService
	Subscribers SubscriberCounter
	Now         func() time.Time
}

func getConnectionInfo(DB *gorm.DB) (ConnectionInfo, error) {
	var info ConnectionInfo
	q := DB.Model(&database.WorkspaceConnection{})
	if err := q.Count(&info.Total).Error; err != nil {
		return info, err
	}
	if err := DB.Model(&database.WorkspaceConnection{}).
		Where("is_active = ? AND is_archived = ?", true, false).
		Count(&info.Active).Error; err != nil {
		return info, err
	}
	err := DB.Model(&database.WorkspaceConnection{}).
		Where("is_archived = ?", true).
		Count(&info.Archived).Error
	return info, err
}

// getOverdue counts pending messages already due and returns the oldest due time.
func getOverdue(DB *gorm.DB, now time.Time) (int64, *time.Time, error) {
	var count int64
	due := DB.Model(&database.ScheduledMessage{}).
		Where("status = ? AND scheduled_for <= ?", database.StatusPending, now.UTC())
	if err := due.Count(&count).Error; err != nil || count == 0 {
		return count, nil, err
	}

	var oldest database.ScheduledMessage
	err := DB.Where("status = ? AND scheduled_for <= ?", database.StatusPending, now.UTC()).
		Order("scheduled_for").
		First(&oldest).Error
	if err != nil {
		return count, nil, err
	}
	return count, &oldest.ScheduledFor, nil
}

// Metrics reports queue depth, connection liveness and task state
//
//	@Summary      Dispatch metrics
//	@Tags         admin
//	@Produce      json
//	@Success      200  {object}  Metrics
//	@Failure      403  {string}  string "Not allowed to view metrics"
//	@Router       /api/v1/admin/metrics [get]
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	DB, user, err := util.GetDBAndUser(r)
	if err != nil {
		http.Error(w, "Unable to get database or user", http.StatusBadRequest)
		return
	}

	if !user.Can(access.CapManageTasks) {
		http.Error(w, "Not allowed to view metrics", http.StatusForbidden)
		return
	}

	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}

	messages, err := database.CountMessagesByStatus(DB)
	if err != nil {
		zap.L().Error("count messages", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	overdue, oldest, err := getOverdue(DB, now)
	if err != nil {
		zap.L().Error("count overdue messages", zap.Error(err))
	}

	connections, err := getConnectionInfo(DB)
	if err != nil {
		zap.L().Error("count connections", zap.Error(err))
	}

	metrics := Metrics{
		Messages:    messages,
		Overdue:     overdue,
		OldestDue:   oldest,
		Connections: connections,
	}
	if h.Scheduler != nil {
		metrics.Tasks = h.Scheduler.ListTasks()
	}
	if h.Subscribers != nil {
		metrics.Subscribers = h.Subscribers.SubscriberCount()
	}

	util.WriteJSON(w, http.StatusOK, metrics)
}
