package admin

import (
	"net/http"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
	"go.uber.org/zap"
)

type UserDetails struct {
	UUID      string      `json:"uuid"`
	CreatedAt time.Time   `json:"created_at"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Role      access.Role `json:"role"`
	IsBlocked bool        `json:"is_blocked"`

	ConnectionsCount int64      `json:"connections_count"`
	PendingCount     int64      `json:"pending_count"`
	FailedCount      int64      `json:"failed_count"`
	LastLogin        *time.Time `json:"last_login,omitempty"`
}

type PaginatedUsersData struct {
	database.Pagination
	Users []UserDetails `json:"users"`
}

// GetUsersWithDetails lists principals with their connection and queue counts
//
//	@Summary      List users
//	@Tags         admin
//	@Produce      json
//	@Param        page   query  int  false  "Page number"  default(1)
//	@Param        limit  query  int  false  "Page size"    default(20)
//	@Success      200  {object}  PaginatedUsersData
//	@Router       /api/v1/admin/users [get]
func (h *AdminHandler) GetUsersWithDetails(w http.ResponseWriter, r *http.Request) {
	DB, user, err := util.GetDBAndUser(r)
	if err != nil {
		http.Error(w, "Unable to get database or user", http.StatusBadRequest)
		return
	}

	if !user.Can(access.CapBlockUsers) && !user.Can(access.CapAssignConnections) {
		http.Error(w, "Not allowed to list users", http.StatusForbidden)
		return
	}

	pagination := database.PaginationFromRequest(r, 20)

	var totalUsers int64
	if err := DB.Model(&database.User{}).Count(&totalUsers).Error; err != nil {
		zap.L().Error("count users", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	pagination.SetTotal(totalUsers)

	var users []database.User
	if err := DB.Offset(pagination.GetOffset()).
		Limit(pagination.GetLimit()).
		Order("created_at DESC").
		Find(&users).Error; err != nil {
		zap.L().Error("list users", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	details := make([]UserDetails, 0, len(users))
	for _, u := range users {
		d := UserDetails{
			UUID:      u.UUID,
			CreatedAt: u.CreatedAt,
			Name:      u.Name,
			Email:     u.Email,
			Role:      u.Role,
			IsBlocked: u.IsBlocked,
		}

		DB.Model(&database.WorkspaceConnection{}).
			Where("user_id = ? AND is_archived = ?", u.ID, false).
			Count(&d.ConnectionsCount)
		DB.Model(&database.ScheduledMessage{}).
			Where("user_id = ? AND status = ?", u.ID, database.StatusPending).
			Count(&d.PendingCount)
		DB.Model(&database.ScheduledMessage{}).
			Where("user_id = ? AND status = ?", u.ID, database.StatusFailed).
			Count(&d.FailedCount)

		var latestSession database.Session
		if err := DB.Where("user_id = ?", u.ID).Order("created_at DESC").First(&latestSession).Error; err == nil {
			d.LastLogin = &latestSession.CreatedAt
		}

		details = append(details, d)
	}

	util.WriteJSON(w, http.StatusOK, PaginatedUsersData{
		Pagination: pagination,
		Users:      details,
	})
}

type BlockUserResponse struct {
	UserUUID  string `json:"user_uuid"`
	Cancelled int64  `json:"cancelled"`
}

// BlockUser blocks a principal and archives their connections
//
//	@Summary      Block a user
//	@Description  Blocks the user, ends their local sessions and archives every connection they own, cancelling pending messages.
//	@Tags         admin
//	@Produce      json
//	@Param        user_uuid  path  string  true  "User UUID"
//	@Success      200  {object}  BlockUserResponse
//	@Failure      403  {string}  string "Not allowed to block users"
//	@Failure      404  {string}  string "User not found"
//	@Router       /api/v1/admin/users/{user_uuid}/block [post]
func (h *AdminHandler) BlockUser(w http.ResponseWriter, r *http.Request) {
	DB, user, err := util.GetDBAndUser(r)
	if err != nil {
		http.Error(w, "Unable to get database or user", http.StatusBadRequest)
		return
	}

	if !user.Can(access.CapBlockUsers) {
		if h.Guard != nil {
			h.Guard.Record(r, database.EventPermissionDenied, "block user", &user.ID)
		}
		http.Error(w, "Not allowed to block users", http.StatusForbidden)
		return
	}

	target, err := database.FindUserByUUID(DB, r.PathValue("user_uuid"))
	if err != nil {
		if database.IsNotFound(err) {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		zap.L().Error("find user", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if target.ID == user.ID {
		http.Error(w, "Cannot block yourself", http.StatusBadRequest)
		return
	}

	cancelled, err := database.BlockUser(DB, target.ID, h.now(), h.Retention)
	if err != nil {
		zap.L().Error("block user", zap.Uint("user", target.ID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if err := database.DeleteUserSessions(DB, target.ID); err != nil {
		zap.L().Error("delete sessions of blocked user", zap.Uint("user", target.ID), zap.Error(err))
	}

	zap.L().Info("user blocked",
		zap.Uint("user", target.ID),
		zap.Uint("by", user.ID),
		zap.Int64("cancelled", cancelled))

	util.WriteJSON(w, http.StatusOK, BlockUserResponse{
		UserUUID:  target.UUID,
		Cancelled: cancelled,
	})
}
