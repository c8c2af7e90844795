package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/dispatch"
	"github.com/Programmerfd54/rocket-shelduer-sub002/rocketchat"
	"github.com/Programmerfd54/rocket-shelduer-sub002/workspace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	TaskDispatch      = "dispatch_scheduled_messages"
	TaskLiveness      = "check_connections"
	TaskPurgeArchived = "purge_archived_connections"
	TaskRecoverClaims = "recover_stale_claims"
	TaskPruneSessions = "prune_expired_sessions"
)

// Task represents a scheduled task
type Task struct {
	Name        string
	Description string
	Schedule    string
	Enabled     bool
	Handler     func() error `json:"-"`
}

// Every is a cron descriptor running every d.
func Every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// DispatchTasks returns the delivery task driving the engine.
func DispatchTasks(engine *dispatch.Engine, interval time.Duration) []Task {
	return []Task{
		{
			Name:        TaskDispatch,
			Description: "Deliver due scheduled messages",
			Schedule:    Every(interval),
			Enabled:     engine != nil,
			Handler: func() error {
				res, err := engine.Tick(context.Background())
				if err != nil {
					zap.L().Error("dispatch task aborted",
						zap.Int("attempted", res.Attempted),
						zap.Int("sent", res.Sent),
						zap.Int("failed", res.Failed),
						zap.Error(err))
				}
				return err
			},
		},
	}
}

type MaintenanceOptions struct {
	StaleClaimAfter time.Duration
	RemoteTimeout   time.Duration
	Logger          *zap.Logger
	// NewTester builds the liveness client for a workspace url.
	NewTester func(baseURL string) workspace.Tester
	Now       func() time.Time
}

// MaintenanceTasks returns the housekeeping tasks around connections,
// claims and local sessions.
func MaintenanceTasks(DB *gorm.DB, opts MaintenanceOptions) []Task {
	logger := opts.Logger
	if logger == nil {
		logger = zap.L()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newTester := opts.NewTester
	if newTester == nil {
		timeout := opts.RemoteTimeout
		newTester = func(baseURL string) workspace.Tester {
			return rocketchat.NewClient(baseURL, rocketchat.WithTimeout(timeout))
		}
	}

	return []Task{
		{
			Name:        TaskLiveness,
			Description: "Check cached workspace sessions",
			Schedule:    "*/15 * * * *",
			Enabled:     true,
			Handler: func() error {
				return checkConnections(DB, newTester, now, logger)
			},
		},
		{
			Name:        TaskPurgeArchived,
			Description: "Delete archived connections past their retention",
			Schedule:    "0 * * * *",
			Enabled:     true,
			Handler: func() error {
				n, err := database.PurgeArchivedConnections(DB, now())
				if err != nil {
					return err
				}
				if n > 0 {
					logger.Info("purged archived connections", zap.Int64("count", n))
				}
				return nil
			},
		},
		{
			Name:        TaskRecoverClaims,
			Description: "Fail messages stuck in delivery",
			Schedule:    "*/5 * * * *",
			Enabled:     opts.StaleClaimAfter > 0,
			Handler: func() error {
				n, err := database.RecoverStaleClaims(DB, now().Add(-opts.StaleClaimAfter), dispatch.MsgInterrupted)
				if err != nil {
					return err
				}
				if n > 0 {
					logger.Warn("recovered stale claims", zap.Int64("count", n))
				}
				return nil
			},
		},
		{
			Name:        TaskPruneSessions,
			Description: "Remove expired sessions",
			Schedule:    "0 4 * * *", // 4 AM every day
			Enabled:     true,
			Handler: func() error {
				n, err := database.PruneExpiredSessions(DB, now())
				if err != nil {
					return err
				}
				logger.Info("pruned expired sessions", zap.Int64("count", n))
				return nil
			},
		},
	}
}

func checkConnections(DB *gorm.DB, newTester func(string) workspace.Tester, now func() time.Time, logger *zap.Logger) error {
	conns, err := database.ActiveSessions(DB)
	if err != nil {
		return err
	}
	var dead int
	for i := range conns {
		conn := &conns[i]
		live, err := workspace.CheckLiveness(context.Background(), DB, conn, newTester(conn.BaseURL), now())
		if err != nil {
			if rocketchat.KindOf(err) != 0 {
				logger.Info("workspace liveness check failed", zap.Uint("connection", conn.ID), zap.Error(err))
				continue
			}
			return err
		}
		if !live {
			dead++
		}
	}
	if dead > 0 {
		logger.Info("cleared dead workspace sessions", zap.Int("count", dead), zap.Int("checked", len(conns)))
	}
	return nil
}
