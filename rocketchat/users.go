package rocketchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// ListUsers returns at most maxPages pages of workspace users.
func (c *Client) ListUsers(ctx context.Context, s Session) ([]User, error) {
	var users []User
	err := c.paginate(ctx, "users.list", "/api/v1/users.list", s, func(body []byte) (int, int, error) {
		var page usersResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, 0, err
		}
		users = append(users, page.Users...)
		return len(page.Users), page.Total, nil
	})
	return users, err
}

func (c *Client) GetUserInfo(ctx context.Context, s Session, userID string) (*User, error) {
	const op = "users.info"
	if strings.TrimSpace(userID) == "" {
		return nil, &Error{Kind: KindSemantic, Op: op, Message: "user id is required"}
	}

	q := url.Values{}
	q.Set("userId", userID)

	var resp userResponse
	if err := c.do(ctx, op, http.MethodGet, "/api/v1/users.info", q, &s, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

func (c *Client) CreateUser(ctx context.Context, s Session, u NewUser) (*User, error) {
	const op = "users.create"
	if u.Username == "" || u.Email == "" || u.Password == "" || u.Name == "" {
		return nil, &Error{Kind: KindSemantic, Op: op, Message: "name, username, email and password are required"}
	}

	var resp userResponse
	if err := c.do(ctx, op, http.MethodPost, "/api/v1/users.create", nil, &s, u, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

func (c *Client) InviteUserToRoom(ctx context.Context, s Session, roomID, userID string) error {
	const op = "channels.invite"
	if roomID == "" || userID == "" {
		return &Error{Kind: KindSemantic, Op: op, Message: "room id and user id are required"}
	}
	return c.do(ctx, op, http.MethodPost, "/api/v1/channels.invite", nil, &s, inviteRequest{RoomID: roomID, UserID: userID}, nil)
}

func (c *Client) AddUserToRole(ctx context.Context, s Session, roleName, username string) error {
	const op = "roles.addUserToRole"
	if roleName == "" || username == "" {
		return &Error{Kind: KindSemantic, Op: op, Message: "role name and username are required"}
	}
	return c.do(ctx, op, http.MethodPost, "/api/v1/roles.addUserToRole", nil, &s, addUserToRoleRequest{RoleName: roleName, Username: username}, nil)
}
