package connections

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Programmerfd54/rocket-shelduer-sub002/rocketchat"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
)

// Channels lists the public channels of the connection's workspace
//
//	@Summary      List workspace channels
//	@Tags         connections
//	@Produce      json
//	@Param        connection_uuid  path  string  true  "Connection UUID"
//	@Success      200  {array}   rocketchat.Channel
//	@Failure      409  {string}  string "No usable session for this workspace"
//	@Failure      502  {string}  string "Workspace unreachable"
//	@Router       /api/v1/connections/{connection_uuid}/channels [get]
func (h *ConnectionsHandler) Channels(w http.ResponseWriter, r *http.Request) {
	call, ok := h.remote(w, r)
	if !ok {
		return
	}
	channels, err := call.client.GetChannels(r.Context(), call.session)
	if err != nil {
		call.fail(w, "get channels", err)
		return
	}
	util.WriteJSON(w, http.StatusOK, channels)
}

func (h *ConnectionsHandler) Emojis(w http.ResponseWriter, r *http.Request) {
	call, ok := h.remote(w, r)
	if !ok {
		return
	}
	emojis, err := call.client.GetEmojis(r.Context(), call.session)
	if err != nil {
		call.fail(w, "get emojis", err)
		return
	}
	util.WriteJSON(w, http.StatusOK, emojis)
}

func (h *ConnectionsHandler) Roles(w http.ResponseWriter, r *http.Request) {
	call, ok := h.remote(w, r)
	if !ok {
		return
	}
	roles, err := call.client.ListRoles(r.Context(), call.session)
	if err != nil {
		call.fail(w, "list roles", err)
		return
	}
	util.WriteJSON(w, http.StatusOK, roles)
}

func (h *ConnectionsHandler) Users(w http.ResponseWriter, r *http.Request) {
	call, ok := h.remote(w, r)
	if !ok {
		return
	}
	users, err := call.client.ListUsers(r.Context(), call.session)
	if err != nil {
		call.fail(w, "list users", err)
		return
	}
	util.WriteJSON(w, http.StatusOK, users)
}

func (h *ConnectionsHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	remoteID := r.PathValue("remote_id")
	if remoteID == "" {
		http.Error(w, "Remote user id is required", http.StatusBadRequest)
		return
	}
	call, ok := h.remote(w, r)
	if !ok {
		return
	}
	user, err := call.client.GetUserInfo(r.Context(), call.session, remoteID)
	if err != nil {
		call.fail(w, "get user info", err)
		return
	}
	util.WriteJSON(w, http.StatusOK, user)
}

type CreateRemoteUser struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
	RoomID   string `json:"room_id,omitempty"`
}

type CreateRemoteUserResponse struct {
	User     *rocketchat.User `json:"user"`
	Role     string           `json:"role,omitempty"`
	Invited  string           `json:"invited,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
}

// CreateUser creates an account in the connection's workspace
//
//	@Summary      Create a workspace user
//	@Description  Creates the user, then optionally grants a role and invites them to a room. Failures of the optional steps are reported as warnings.
//	@Tags         connections
//	@Accept       json
//	@Produce      json
//	@Param        connection_uuid  path  string            true  "Connection UUID"
//	@Param        request          body  CreateRemoteUser  true  "New user"
//	@Success      201  {object}  CreateRemoteUserResponse
//	@Failure      400  {string}  string "Invalid input"
//	@Failure      409  {string}  string "No usable session for this workspace"
//	@Router       /api/v1/connections/{connection_uuid}/users [post]
func (h *ConnectionsHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var data CreateRemoteUser
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	data.Username = strings.TrimSpace(data.Username)
	data.Email = strings.TrimSpace(data.Email)
	if data.Email == "" || data.Name == "" {
		http.Error(w, "email and name are required", http.StatusBadRequest)
		return
	}
	if h.Guard != nil {
		if err := h.Guard.InspectCredentials(r, data.Username, data.Password); err != nil {
			http.Error(w, "Invalid credentials", http.StatusBadRequest)
			return
		}
	}

	call, ok := h.remote(w, r)
	if !ok {
		return
	}

	created, err := call.client.CreateUser(r.Context(), call.session, rocketchat.NewUser{
		Email:    data.Email,
		Name:     data.Name,
		Username: data.Username,
		Password: data.Password,
		Active:   true,
		Verified: true,
	})
	if err != nil {
		call.fail(w, "create user", err)
		return
	}

	resp := CreateRemoteUserResponse{User: created}
	if data.Role != "" {
		if err := call.client.AddUserToRole(r.Context(), call.session, data.Role, created.Username); err != nil {
			resp.Warnings = append(resp.Warnings, "role not assigned: "+remoteReason(err))
		} else {
			resp.Role = data.Role
		}
	}
	if data.RoomID != "" {
		if err := call.client.InviteUserToRoom(r.Context(), call.session, data.RoomID, created.ID); err != nil {
			resp.Warnings = append(resp.Warnings, "not invited: "+remoteReason(err))
		} else {
			resp.Invited = data.RoomID
		}
	}

	util.WriteJSON(w, http.StatusCreated, resp)
}

func remoteReason(err error) string {
	switch rocketchat.KindOf(err) {
	case rocketchat.KindTransport:
		return "workspace unreachable"
	case rocketchat.KindAuth:
		return "workspace authentication failed"
	case rocketchat.KindSemantic:
		return "rejected by workspace"
	}
	return "internal error"
}
