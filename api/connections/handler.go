package connections

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/dispatch"
	"github.com/Programmerfd54/rocket-shelduer-sub002/guard"
	"github.com/Programmerfd54/rocket-shelduer-sub002/rocketchat"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
	"github.com/Programmerfd54/rocket-shelduer-sub002/workspace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Workspace is the remote client surface used by the connection endpoints.
// *rocketchat.Client satisfies it.
type Workspace interface {
	Login(ctx context.Context, username, password string) (rocketchat.Session, error)
	TestConnection(ctx context.Context, s rocketchat.Session) (bool, error)
	GetChannels(ctx context.Context, s rocketchat.Session) ([]rocketchat.Channel, error)
	GetEmojis(ctx context.Context, s rocketchat.Session) ([]rocketchat.Emoji, error)
	ListRoles(ctx context.Context, s rocketchat.Session) ([]rocketchat.Role, error)
	ListUsers(ctx context.Context, s rocketchat.Session) ([]rocketchat.User, error)
	GetUserInfo(ctx context.Context, s rocketchat.Session, userID string) (*rocketchat.User, error)
	CreateUser(ctx context.Context, s rocketchat.Session, u rocketchat.NewUser) (*rocketchat.User, error)
	InviteUserToRoom(ctx context.Context, s rocketchat.Session, roomID, userID string) error
	AddUserToRole(ctx context.Context, s rocketchat.Session, roleName, username string) error
}

// Vault seals and opens workspace passwords. *vault.Vault satisfies it.
type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

type ConnectionsHandler struct {
	Vault         Vault
	Guard         *guard.Guard
	Retention     time.Duration
	RemoteTimeout time.Duration
	NewClient     func(baseURL string) Workspace
	Now           func() time.Time
}

func NewConnectionsHandler(v Vault, g *guard.Guard, retention, remoteTimeout time.Duration) *ConnectionsHandler {
	return &ConnectionsHandler{
		Vault:         v,
		Guard:         g,
		Retention:     retention,
		RemoteTimeout: remoteTimeout,
		NewClient: func(baseURL string) Workspace {
			return rocketchat.NewClient(baseURL, rocketchat.WithTimeout(remoteTimeout))
		},
		Now: time.Now,
	}
}

func (h *ConnectionsHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// target loads the connection named in the path and checks that user may
// act on it. On failure the response has been written.
func (h *ConnectionsHandler) target(w http.ResponseWriter, r *http.Request, DB *gorm.DB, user *database.User) (*database.WorkspaceConnection, bool) {
	connectionUUID := r.PathValue("connection_uuid")
	if connectionUUID == "" {
		http.Error(w, "Connection UUID is required", http.StatusBadRequest)
		return nil, false
	}

	conn, err := database.FindConnectionByUUID(DB, connectionUUID)
	if err != nil {
		if database.IsNotFound(err) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return nil, false
		}
		zap.L().Error("find connection", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}

	allowed, err := workspace.CanAccess(DB, user, conn)
	if err != nil {
		zap.L().Error("check connection access", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if !allowed {
		if h.Guard != nil {
			h.Guard.Record(r, database.EventPermissionDenied, "connection "+conn.UUID, &user.ID)
		}
		http.Error(w, "Connection not found", http.StatusNotFound)
		return nil, false
	}
	return conn, true
}

// remote resolves the session user may use against the target's workspace.
func (h *ConnectionsHandler) remote(w http.ResponseWriter, r *http.Request) (*remoteCall, bool) {
	DB, user, err := util.GetDBAndUser(r)
	if err != nil {
		http.Error(w, "Unable to get database or user", http.StatusBadRequest)
		return nil, false
	}

	target, ok := h.target(w, r, DB, user)
	if !ok {
		return nil, false
	}

	conn, ok, err := workspace.ResolveTarget(r.Context(), DB, user.ID, target)
	if err != nil {
		zap.L().Error("resolve connection", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if !ok {
		http.Error(w, "No usable session for this workspace", http.StatusConflict)
		return nil, false
	}

	token, remoteUserID := conn.SessionCredentials()
	return &remoteCall{
		db:      DB,
		conn:    conn,
		client:  h.NewClient(conn.BaseURL),
		session: rocketchat.Session{Token: token, UserID: remoteUserID},
		now:     h.now,
	}, true
}

type remoteCall struct {
	db      *gorm.DB
	conn    *database.WorkspaceConnection
	client  Workspace
	session rocketchat.Session
	now     func() time.Time
}

// fail maps a remote error to a response. A rejected session is cleared so
// the next dispatch tick logs in again.
func (c *remoteCall) fail(w http.ResponseWriter, op string, err error) {
	var rcErr *rocketchat.Error
	if !errors.As(err, &rcErr) {
		_, msg := dispatch.Classify(err)
		zap.L().Error(op, zap.Error(err))
		http.Error(w, msg, http.StatusBadGateway)
		return
	}

	switch rcErr.Kind {
	case rocketchat.KindAuth:
		if clearErr := database.ClearSession(c.db, c.conn, c.now()); clearErr != nil {
			zap.L().Error("clear rejected session", zap.Error(clearErr))
		}
		http.Error(w, dispatch.MsgAuthFailed, http.StatusBadGateway)
	case rocketchat.KindSemantic:
		zap.L().Info(op+" rejected by workspace", zap.Int("status", rcErr.Status))
		http.Error(w, dispatch.MsgRejected, http.StatusBadRequest)
	default:
		http.Error(w, dispatch.MsgUnreachable, http.StatusBadGateway)
	}
}
