package util

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"gorm.io/gorm"
)

type contextKey string

const (
	dbKey   contextKey = "db"
	userKey contextKey = "user"
)

func WithDB(ctx context.Context, DB *gorm.DB) context.Context {
	return context.WithValue(ctx, dbKey, DB)
}

func WithUser(ctx context.Context, user *database.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func GetDBAndUser(r *http.Request) (*gorm.DB, *database.User, error) {
	DB, err := GetDB(r)
	if err != nil {
		return nil, nil, err
	}
	user, ok := r.Context().Value(userKey).(*database.User)
	if !ok {
		return nil, nil, errors.New("invalid user")
	}
	return DB, user, nil
}

func GetUser(r *http.Request) (*database.User, error) {
	user, ok := r.Context().Value(userKey).(*database.User)
	if !ok {
		return nil, errors.New("invalid user")
	}
	return user, nil
}

func GetDB(r *http.Request) (*gorm.DB, error) {
	DB, ok := r.Context().Value(dbKey).(*gorm.DB)
	if !ok {
		return nil, errors.New("invalid database")
	}
	return DB.WithContext(r.Context()), nil
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
