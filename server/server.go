package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ServerStatus string = "unknown"

// CreateUser registers a user unless one with that email exists, in which
// case the existing user is returned unchanged.
func CreateUser(
	DB *gorm.DB,
	email string,
	password string,
	role access.Role,
) (*database.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user database.User
	err := DB.First(&user, "email = ?", email).Error
	if err == nil {
		zap.L().Info("user already exists", zap.String("email", email))
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("read user: %w", err)
	}

	zap.L().Info("creating user", zap.String("email", email), zap.String("role", string(role)))
	return database.RegisterUser(DB, email, email, []byte(password), role)
}

func CreateRootUser(DB *gorm.DB, email string, password string) (*database.User, error) {
	return CreateUser(DB, email, password, access.RoleAdmin)
}

func BackendServer(
	services Services,
	host string,
	port int64,
	ssl bool,
) (*http.Server, string) {
	var protocol string

	router := BackendRouting(services)
	if ssl {
		protocol = "https"
	} else {
		protocol = "http"
	}

	fullHost := fmt.Sprintf("%s://%s:%d", protocol, host, port)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server, fullHost
}
