package connections

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/dispatch"
	"github.com/Programmerfd54/rocket-shelduer-sub002/rocketchat"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CreateConnection struct {
	Name     string `json:"name"`
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Create a workspace connection
//
//	@Summary      Create a workspace connection
//	@Description  Logs in to the workspace first; only working credentials are stored, encrypted.
//	@Tags         connections
//	@Accept       json
//	@Produce      json
//	@Param        request body CreateConnection true "Workspace credentials"
//	@Success      201  {object}  database.WorkspaceConnection
//	@Failure      400  {string}  string "Invalid input"
//	@Failure      409  {string}  string "A connection to this workspace already exists"
//	@Failure      502  {string}  string "Workspace unreachable or login rejected"
//	@Router       /api/v1/connections [post]
func (h *ConnectionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	DB, user, err := util.GetDBAndUser(r)
	if err != nil {
		http.Error(w, "Unable to get database or user", http.StatusBadRequest)
		return
	}

	if !user.Can(access.CapManageOwnConnections) {
		http.Error(w, "Not allowed to manage connections", http.StatusForbidden)
		return
	}

	var data CreateConnection
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	baseURL, err := parseBaseURL(data.BaseURL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data.Username = strings.TrimSpace(data.Username)
	if h.Guard != nil {
		if err := h.Guard.InspectCredentials(r, data.Username, data.Password); err != nil {
			http.Error(w, "Invalid credentials", http.StatusBadRequest)
			return
		}
	}

	client := h.NewClient(baseURL)
	session, err := client.Login(r.Context(), data.Username, data.Password)
	if err != nil {
		if rocketchat.IsAuth(err) || rocketchat.IsSemantic(err) {
			if h.Guard != nil {
				h.Guard.Record(r, database.EventLoginFailed, "workspace "+baseURL, &user.ID)
			}
			http.Error(w, dispatch.MsgAuthFailed, http.StatusBadGateway)
			return
		}
		http.Error(w, dispatch.MsgUnreachable, http.StatusBadGateway)
		return
	}

	blob, err := h.Vault.Encrypt(data.Password)
	if err != nil {
		zap.L().Error("encrypt workspace password", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	name := strings.TrimSpace(data.Name)
	if name == "" {
		name = data.Username + "@" + baseURL
	}
	conn := &database.WorkspaceConnection{
		UserID:            user.ID,
		Name:              name,
		BaseURL:           baseURL,
		Username:          data.Username,
		EncryptedPassword: blob,
	}
	err = DB.Transaction(func(tx *gorm.DB) error {
		if err := database.CreateConnection(tx, conn); err != nil {
			return err
		}
		return database.SaveSession(tx, conn, session.Token, session.UserID, h.now())
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicateConnection) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		zap.L().Error("create connection", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	util.WriteJSON(w, http.StatusCreated, conn)
}

func parseBaseURL(raw string) (string, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", errors.New("base_url must be an absolute http(s) url")
	}
	if u.User != nil {
		return "", errors.New("base_url must not carry credentials")
	}
	return raw, nil
}
