package server

import (
	"fmt"
	"net/http"

	"github.com/Programmerfd54/rocket-shelduer-sub002/api/admin"
	"github.com/Programmerfd54/rocket-shelduer-sub002/api/connections"
	apidispatch "github.com/Programmerfd54/rocket-shelduer-sub002/api/dispatch"
	"github.com/Programmerfd54/rocket-shelduer-sub002/api/messages"
	"github.com/Programmerfd54/rocket-shelduer-sub002/api/metrics"
	"github.com/Programmerfd54/rocket-shelduer-sub002/api/user"
	"github.com/Programmerfd54/rocket-shelduer-sub002/api/websocket"
	"github.com/Programmerfd54/rocket-shelduer-sub002/config"
	"github.com/Programmerfd54/rocket-shelduer-sub002/dispatch"
	"github.com/Programmerfd54/rocket-shelduer-sub002/guard"
	"github.com/Programmerfd54/rocket-shelduer-sub002/scheduler"
	"gorm.io/gorm"
)

// Services are the long lived components the routes are wired to.
type Services struct {
	DB        *gorm.DB
	Config    config.Config
	Vault     connections.Vault
	Engine    *dispatch.Engine
	Guard     *guard.Guard
	Scheduler *scheduler.SchedulerService
	Hub       *websocket.WebSocketHandler
}

func BackendRouting(s Services) *http.ServeMux {
	mux := http.NewServeMux()
	v1PrivateApis := http.NewServeMux()
	websocketMux := http.NewServeMux()

	userHandler := &user.UserHandler{SessionTTL: s.Config.SessionTTL, Guard: s.Guard}
	dispatchHandler := &apidispatch.DispatchHandler{Engine: s.Engine}
	messagesHandler := &messages.MessagesHandler{Notifier: s.Hub}
	connectionsHandler := connections.NewConnectionsHandler(s.Vault, s.Guard, s.Config.ArchiveRetention, s.Config.RemoteTimeout)
	adminHandler := &admin.AdminHandler{Guard: s.Guard, Retention: s.Config.ArchiveRetention}
	tasksHandler := &admin.ScheduledTasksHandler{SchedulerService: s.Scheduler}
	metricsHandler := &metrics.MetricsHandler{Scheduler: s.Scheduler, Subscribers: s.Hub}

	limited := s.Guard.RateLimit

	v1PrivateApis.HandleFunc("GET /user/self", userHandler.Self)
	v1PrivateApis.HandleFunc("POST /user/logout", userHandler.Logout)

	v1PrivateApis.HandleFunc("GET /messages", messagesHandler.List)
	v1PrivateApis.Handle("POST /messages/{message_uuid}/retry", limited(http.HandlerFunc(messagesHandler.Retry)))

	v1PrivateApis.HandleFunc("GET /connections", connectionsHandler.List)
	v1PrivateApis.Handle("POST /connections", limited(http.HandlerFunc(connectionsHandler.Create)))
	v1PrivateApis.Handle("POST /connections/{connection_uuid}/test", limited(http.HandlerFunc(connectionsHandler.Test)))
	v1PrivateApis.Handle("POST /connections/{connection_uuid}/archive", limited(http.HandlerFunc(connectionsHandler.Archive)))
	v1PrivateApis.HandleFunc("GET /connections/{connection_uuid}/channels", connectionsHandler.Channels)
	v1PrivateApis.HandleFunc("GET /connections/{connection_uuid}/emojis", connectionsHandler.Emojis)
	v1PrivateApis.HandleFunc("GET /connections/{connection_uuid}/roles", connectionsHandler.Roles)
	v1PrivateApis.HandleFunc("GET /connections/{connection_uuid}/users", connectionsHandler.Users)
	v1PrivateApis.HandleFunc("GET /connections/{connection_uuid}/users/{remote_id}", connectionsHandler.UserInfo)
	v1PrivateApis.Handle("POST /connections/{connection_uuid}/users", limited(http.HandlerFunc(connectionsHandler.CreateUser)))

	v1PrivateApis.HandleFunc("GET /admin/users", adminHandler.GetUsersWithDetails)
	v1PrivateApis.HandleFunc("POST /admin/users/{user_uuid}/block", adminHandler.BlockUser)
	v1PrivateApis.HandleFunc("POST /admin/connections/{connection_uuid}/assign", adminHandler.AssignConnection)
	v1PrivateApis.HandleFunc("DELETE /admin/connections/{connection_uuid}/assign", adminHandler.UnassignConnection)
	v1PrivateApis.HandleFunc("GET /admin/security-events", adminHandler.SecurityEvents)
	v1PrivateApis.HandleFunc("GET /admin/metrics", metricsHandler.Metrics)
	v1PrivateApis.HandleFunc("GET /admin/tasks", tasksHandler.ListTasks)
	v1PrivateApis.HandleFunc("POST /admin/tasks/{task_name}/run", tasksHandler.RunTask)
	v1PrivateApis.HandleFunc("DELETE /admin/tasks/{task_name}", tasksHandler.RemoveTask)

	public := CreateStack(Logging, DBMiddleware(s.DB))
	trigger := CreateStack(Logging, limited, DispatchTriggerMiddleware(s.DB, s.Guard))

	mux.Handle("POST /api/v1/user/login", public(limited(http.HandlerFunc(userHandler.Login))))
	mux.Handle("GET /api/v1/dispatch/run", trigger(http.HandlerFunc(dispatchHandler.Run)))
	mux.Handle("POST /api/v1/dispatch/run", trigger(http.HandlerFunc(dispatchHandler.Run)))
	mux.HandleFunc("GET /_health", func(w http.ResponseWriter, r *http.Request) {
		if ServerStatus != "running" {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(fmt.Sprintf("Server is not running, status: %s", ServerStatus)))
		} else {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Server is running"))
		}
	})
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", Logging(AuthMiddleware(s.DB)(v1PrivateApis))))

	websocketMux.HandleFunc("/connect", s.Hub.Connect)
	mux.Handle("/ws/", http.StripPrefix("/ws", AuthMiddleware(s.DB)(websocketMux)))

	return mux
}
