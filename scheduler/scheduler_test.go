package scheduler_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database/dbtest"
	"github.com/Programmerfd54/rocket-shelduer-sub002/dispatch"
	"github.com/Programmerfd54/rocket-shelduer-sub002/rocketchat/rctest"
	"github.com/Programmerfd54/rocket-shelduer-sub002/scheduler"
	"github.com/Programmerfd54/rocket-shelduer-sub002/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) *scheduler.SchedulerService {
	t.Helper()
	s := scheduler.NewSchedulerService(zap.NewNop())
	t.Cleanup(s.Stop)
	return s
}

func TestRegisterAndRunTask(t *testing.T) {
	s := newService(t)
	calls := 0
	err := s.RegisterTasks([]scheduler.Task{
		{Name: "count", Schedule: "0 0 1 1 *", Enabled: true, Handler: func() error { calls++; return nil }},
		{Name: "broken", Schedule: "0 0 1 1 *", Enabled: true, Handler: func() error { return errors.New("boom") }},
		{Name: "off", Schedule: "0 0 1 1 *", Enabled: false, Handler: func() error { return nil }},
	})
	require.NoError(t, err)
	s.Start()

	require.NoError(t, s.RunTaskNow("count"))
	assert.Equal(t, 1, calls)
	assert.EqualError(t, s.RunTaskNow("broken"), "boom")
	assert.Error(t, s.RunTaskNow("off"))

	tasks := s.ListTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "broken", tasks[0].Name)
	assert.Equal(t, "boom", tasks[0].LastError)
	assert.Equal(t, "count", tasks[1].Name)
	assert.Equal(t, 1, tasks[1].Runs)
	assert.NotNil(t, tasks[1].LastRun)

	assert.Error(t, s.AddTask(scheduler.Task{Name: "count", Schedule: "0 0 1 1 *", Handler: func() error { return nil }}))
	require.NoError(t, s.RemoveTask("count"))
	_, ok := s.GetTaskByName("count")
	assert.False(t, ok)
}

func TestRunTaskNowWhileRunning(t *testing.T) {
	s := newService(t)
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.AddTask(scheduler.Task{
		Name:     "slow",
		Schedule: "0 0 1 1 *",
		Enabled:  true,
		Handler: func() error {
			close(started)
			<-release
			return nil
		},
	}))

	done := make(chan error)
	go func() { done <- s.RunTaskNow("slow") }()
	<-started
	assert.ErrorIs(t, s.RunTaskNow("slow"), scheduler.ErrTaskRunning)
	close(release)
	assert.NoError(t, <-done)
}

func TestDispatchTaskDelivers(t *testing.T) {
	ws := rctest.NewServer()
	defer ws.Close()
	ws.AddAccount("bot", "pw")

	v, err := vault.New("scheduler-test-secret", false)
	require.NoError(t, err)
	db := dbtest.Open(t)
	owner := dbtest.User(t, db, "owner@example.com", access.RoleUser)
	blob, err := v.Encrypt("pw")
	require.NoError(t, err)
	conn := dbtest.Connection(t, db, owner, ws.URL, "bot", blob)
	msg := dbtest.Message(t, db, conn, "room-0", "tick", time.Now().Add(-time.Minute))

	s := newService(t)
	engine := dispatch.NewEngine(db, v, dispatch.WithLogger(zap.NewNop()))
	require.NoError(t, s.RegisterTasks(scheduler.DispatchTasks(engine, time.Hour)))

	require.NoError(t, s.RunTaskNow(scheduler.TaskDispatch))
	stored, err := database.FindMessageByID(db, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusSent, stored.Status)
}

func TestMaintenanceTasks(t *testing.T) {
	ws := rctest.NewServer()
	defer ws.Close()
	ws.AddAccount("bot", "pw")

	db := dbtest.Open(t)
	owner := dbtest.User(t, db, "owner@example.com", access.RoleUser)
	now := time.Now()

	live := dbtest.Connection(t, db, owner, ws.URL, "bot", "blob")
	token, rid := ws.IssueToken("bot")
	require.NoError(t, database.SaveSession(db, live, token, rid, now))
	dead := dbtest.Connection(t, db, owner, ws.URL, "other", "blob")
	require.NoError(t, database.SaveSession(db, dead, "expired", "uid-other", now))

	stuck := dbtest.Message(t, db, live, "room-0", "stuck", now.Add(-time.Hour))
	_, err := database.ClaimMessage(db, stuck.ID, now.Add(-time.Hour))
	require.NoError(t, err)

	s := newService(t)
	require.NoError(t, s.RegisterTasks(scheduler.MaintenanceTasks(db, scheduler.MaintenanceOptions{
		StaleClaimAfter: 10 * time.Minute,
		RemoteTimeout:   time.Second,
		Logger:          zap.NewNop(),
	})))

	require.NoError(t, s.RunTaskNow(scheduler.TaskLiveness))
	c, err := database.FindConnectionByID(db, live.ID)
	require.NoError(t, err)
	assert.True(t, c.HasSession())
	c, err = database.FindConnectionByID(db, dead.ID)
	require.NoError(t, err)
	assert.False(t, c.HasSession())

	require.NoError(t, s.RunTaskNow(scheduler.TaskRecoverClaims))
	m, err := database.FindMessageByID(db, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFailed, m.Status)
	require.NotNil(t, m.Error)
	assert.Equal(t, dispatch.MsgInterrupted, *m.Error)

	require.NoError(t, s.RunTaskNow(scheduler.TaskPurgeArchived))
	require.NoError(t, s.RunTaskNow(scheduler.TaskPruneSessions))
}
