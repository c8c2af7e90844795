// Package rctest provides an in-process fake Rocket.Chat workspace for tests.
package rctest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Posted struct {
	RoomID  string
	Channel string
	Text    string
	UserID  string
}

type account struct {
	id       string
	password string
	roles    []string
}

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]*account // by username
	tokens   map[string]string   // token -> user id
	channels []map[string]interface{}
	posted   []Posted
	invites  [][2]string
	granted  [][2]string

	// UnknownRooms are rejected by chat.postMessage as semantic errors.
	UnknownRooms map[string]bool
	// ForbiddenRooms are refused by chat.postMessage with a 403.
	ForbiddenRooms map[string]bool
	// PostDelay is slept before answering chat.postMessage.
	PostDelay time.Duration

	logins atomic.Int64
	posts  atomic.Int64
}

func NewServer() *Server {
	s := &Server{
		accounts:       map[string]*account{},
		tokens:         map[string]string{},
		UnknownRooms:   map[string]bool{},
		ForbiddenRooms: map[string]bool{},
	}
	for i := 0; i < 3; i++ {
		s.channels = append(s.channels, map[string]interface{}{
			"_id": "room-" + strconv.Itoa(i), "name": "channel-" + strconv.Itoa(i), "t": "c", "usersCount": i + 1,
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/login", s.login)
	mux.HandleFunc("GET /api/v1/me", s.authed(s.me))
	mux.HandleFunc("POST /api/v1/chat.postMessage", s.authed(s.postMessage))
	mux.HandleFunc("GET /api/v1/channels.list", s.authed(s.channelsList))
	mux.HandleFunc("GET /api/v1/emoji-custom.list", s.authed(s.emojis))
	mux.HandleFunc("GET /api/v1/users.list", s.authed(s.usersList))
	mux.HandleFunc("GET /api/v1/users.info", s.authed(s.usersInfo))
	mux.HandleFunc("POST /api/v1/users.create", s.authed(s.usersCreate))
	mux.HandleFunc("POST /api/v1/channels.invite", s.authed(s.invite))
	mux.HandleFunc("GET /api/v1/roles.list", s.authed(s.rolesList))
	mux.HandleFunc("POST /api/v1/roles.addUserToRole", s.authed(s.addUserToRole))

	s.Server = httptest.NewServer(mux)
	return s
}

// AddAccount registers a remote account and returns its remote user id.
func (s *Server) AddAccount(username, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "uid-" + username
	s.accounts[username] = &account{id: id, password: password, roles: []string{"user"}}
	return id
}

// IssueToken creates a valid session for username without a login call.
func (s *Server) IssueToken(username string) (token, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accounts[username]
	token = randomToken()
	s.tokens[token] = acc.id
	return token, acc.id
}

// ExpireSessions invalidates every issued token.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = map[string]string{}
}

func (s *Server) SetChannelCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = nil
	for i := 0; i < n; i++ {
		s.channels = append(s.channels, map[string]interface{}{
			"_id": "room-" + strconv.Itoa(i), "name": "channel-" + strconv.Itoa(i), "t": "c",
		})
	}
}

func (s *Server) Logins() int64 { return s.logins.Load() }
func (s *Server) Posts() int64  { return s.posts.Load() }

func (s *Server) Posted() []Posted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Posted(nil), s.posted...)
}

func (s *Server) Invites() [][2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]string(nil), s.invites...)
}

func (s *Server) Granted() [][2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]string(nil), s.granted...)
}

func (s *Server) authed(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		userID := r.Header.Get("X-User-Id")

		s.mu.Lock()
		owner, ok := s.tokens[token]
		s.mu.Unlock()

		if !ok || owner != userID {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"status": "error", "message": "You must be logged in to do this.",
			})
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	s.logins.Add(1)

	var body struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"status": "error", "error": "invalid body"})
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[body.User]
	if !ok || acc.password != body.Password {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"status": "error", "error": "Unauthorized", "message": "Unauthorized"})
		return
	}
	token := randomToken()
	s.tokens[token] = acc.id
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data":   map[string]string{"authToken": token, "userId": acc.id},
	})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request, userID string) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"_id": userID, "username": strings.TrimPrefix(userID, "uid-"), "success": true})
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request, userID string) {
	s.posts.Add(1)
	if s.PostDelay > 0 {
		time.Sleep(s.PostDelay)
	}

	var body struct {
		RoomID  string `json:"roomId"`
		Channel string `json:"channel"`
		Text    string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "invalid body"})
		return
	}

	target := body.RoomID
	if target == "" {
		target = body.Channel
	}

	s.mu.Lock()
	forbidden := s.ForbiddenRooms[target]
	unknown := s.UnknownRooms[target] || forbidden
	if !unknown {
		s.posted = append(s.posted, Posted{RoomID: body.RoomID, Channel: body.Channel, Text: body.Text, UserID: userID})
	}
	s.mu.Unlock()

	if forbidden {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"success": false, "error": "error-not-allowed"})
		return
	}
	if unknown {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "error-invalid-channel"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"channel": target,
		"message": map[string]interface{}{"_id": randomToken()[:17], "rid": target, "msg": body.Text},
	})
}

func (s *Server) channelsList(w http.ResponseWriter, r *http.Request, _ string) {
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if count <= 0 {
		count = 50
	}

	s.mu.Lock()
	total := len(s.channels)
	end := offset + count
	if end > total {
		end = total
	}
	var page []map[string]interface{}
	if offset < total {
		page = append(page, s.channels[offset:end]...)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true, "channels": page, "count": len(page), "offset": offset, "total": total,
	})
}

func (s *Server) emojis(w http.ResponseWriter, r *http.Request, _ string) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"emojis": map[string]interface{}{
			"update": []map[string]interface{}{{"_id": "e1", "name": "shipit", "aliases": []string{"squirrel"}, "extension": "png"}},
			"remove": []interface{}{},
		},
	})
}

func (s *Server) usersList(w http.ResponseWriter, r *http.Request, _ string) {
	s.mu.Lock()
	var users []map[string]interface{}
	for name, acc := range s.accounts {
		users = append(users, map[string]interface{}{"_id": acc.id, "username": name, "name": name, "active": true, "roles": acc.roles})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true, "users": users, "count": len(users), "offset": 0, "total": len(users),
	})
}

func (s *Server) usersInfo(w http.ResponseWriter, r *http.Request, _ string) {
	id := r.URL.Query().Get("userId")

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, acc := range s.accounts {
		if acc.id == id {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success": true, "user": map[string]interface{}{"_id": acc.id, "username": name, "name": name, "active": true, "roles": acc.roles},
			})
			return
		}
	}
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "User not found."})
}

func (s *Server) usersCreate(w http.ResponseWriter, r *http.Request, _ string) {
	var body struct {
		Username string   `json:"username"`
		Name     string   `json:"name"`
		Password string   `json:"password"`
		Roles    []string `json:"roles"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "invalid body"})
		return
	}

	s.mu.Lock()
	if _, exists := s.accounts[body.Username]; exists {
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "Username is already in use"})
		return
	}
	roles := body.Roles
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	acc := &account{id: "uid-" + body.Username, password: body.Password, roles: roles}
	s.accounts[body.Username] = acc
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true, "user": map[string]interface{}{"_id": acc.id, "username": body.Username, "name": body.Name, "active": true, "roles": roles},
	})
}

func (s *Server) invite(w http.ResponseWriter, r *http.Request, _ string) {
	var body struct {
		RoomID string `json:"roomId"`
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "invalid body"})
		return
	}

	s.mu.Lock()
	s.invites = append(s.invites, [2]string{body.RoomID, body.UserID})
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "channel": map[string]string{"_id": body.RoomID}})
}

func (s *Server) rolesList(w http.ResponseWriter, r *http.Request, _ string) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"roles": []map[string]interface{}{
			{"_id": "admin", "name": "admin", "scope": "Users", "protected": true},
			{"_id": "user", "name": "user", "scope": "Users", "protected": true},
			{"_id": "moderator", "name": "moderator", "scope": "Subscriptions", "protected": true},
		},
	})
}

func (s *Server) addUserToRole(w http.ResponseWriter, r *http.Request, _ string) {
	var body struct {
		RoleName string `json:"roleName"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "invalid body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[body.Username]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "error-invalid-user"})
		return
	}
	acc.roles = append(acc.roles, body.RoleName)
	s.granted = append(s.granted, [2]string{body.RoleName, body.Username})
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "role": map[string]string{"name": body.RoleName}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func randomToken() string {
	b := make([]byte, 20)
	rand.Read(b)
	return hex.EncodeToString(b)
}
