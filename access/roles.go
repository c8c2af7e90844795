package access

import (
	"database/sql/driver"
	"fmt"
)

// Role is the closed set of principal roles. Stored as text.
type Role string

const (
	RoleUser    Role = "user"
	RoleSupport Role = "support"
	RoleAdmin   Role = "admin"
)

var Roles = []Role{RoleUser, RoleSupport, RoleAdmin}

type Capability string

const (
	CapManageOwnConnections Capability = "connections.manage_own"
	CapViewAnyConnection    Capability = "connections.view_any"
	CapArchiveAnyConnection Capability = "connections.archive_any"
	CapAssignConnections    Capability = "connections.assign"
	CapRetryOwnMessage      Capability = "messages.retry_own"
	CapRetryAnyMessage      Capability = "messages.retry_any"
	CapViewAnyMessage       Capability = "messages.view_any"
	CapTriggerDispatch      Capability = "dispatch.trigger"
	CapManageTasks          Capability = "tasks.manage"
	CapBlockUsers           Capability = "users.block"
)

var capabilities = map[Role]map[Capability]bool{
	RoleUser: {
		CapManageOwnConnections: true,
		CapRetryOwnMessage:      true,
	},
	RoleSupport: {
		CapManageOwnConnections: true,
		CapRetryOwnMessage:      true,
		CapRetryAnyMessage:      true,
		CapViewAnyMessage:       true,
	},
	RoleAdmin: {
		CapManageOwnConnections: true,
		CapViewAnyConnection:    true,
		CapArchiveAnyConnection: true,
		CapAssignConnections:    true,
		CapRetryOwnMessage:      true,
		CapRetryAnyMessage:      true,
		CapViewAnyMessage:       true,
		CapTriggerDispatch:      true,
		CapManageTasks:          true,
		CapBlockUsers:           true,
	},
}

// Can reports whether role grants capability. Unknown roles grant nothing.
func Can(role Role, capability Capability) bool {
	return capabilities[role][capability]
}

func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) Valid() bool {
	_, ok := capabilities[r]
	return ok
}

func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %q", string(r))
	}
	return string(r), nil
}

func (r *Role) Scan(value interface{}) error {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case nil:
		*r = RoleUser
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Role", value)
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
