package server

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"redskord/models"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type publicUser struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Friends  []string `json:"friends,omitempty"`
}

type authResponse struct {
	Success   bool        `json:"success"`
	User      *publicUser `json:"user,omitempty"`
	Token     string      `json:"token,omitempty"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty"`
	Code      string      `json:"code,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type serverInfo struct {
	Host        string `json:"host"`
	PublicIP    string `json:"publicIp,omitempty"`
	Port        int    `json:"port"`
	UsersCount  int    `json:"usersCount"`
	MaxUsers    int    `json:"maxUsers"`
	ActiveCalls int    `json:"activeCalls"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusFor(code string) int {
	switch code {
	case "invalid_input", "invalid_packet":
		return http.StatusBadRequest
	case "wrong_password":
		return http.StatusUnauthorized
	case "not_found":
		return http.StatusNotFound
	case "username_taken":
		return http.StatusConflict
	case "unavailable":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeAuthError(w http.ResponseWriter, op string, err error) {
	f := failure(op, err)
	if f.Code == "internal" {
		s.log.Error("request failed", "op", op, "error", err)
	}
	writeJSON(w, statusFor(f.Code), authResponse{Code: f.Code, Error: f.Error})
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, bool) {
	var c credentials
	r.Body = http.MaxBytesReader(w, r.Body, 16<<10)
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		return c, false
	}
	return c, true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCredentials(w, r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, authResponse{Code: "invalid_input", Error: "invalid request body"})
		return
	}
	user, err := s.dir.Register(c.Username, c.Password, c.Email)
	if err != nil {
		s.writeAuthError(w, "register", err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		Success: true,
		User:    &publicUser{ID: user.ID, Username: user.Username, Email: user.Email},
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCredentials(w, r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, authResponse{Code: "invalid_input", Error: "invalid request body"})
		return
	}
	user, err := s.dir.Login(c.Username, c.Password)
	if err != nil {
		s.writeAuthError(w, "login", err)
		return
	}

	resp := authResponse{
		Success: true,
		User:    &publicUser{ID: user.ID, Username: user.Username, Email: user.Email, Friends: user.Friends},
	}
	if s.tokens != nil {
		token, exp, err := s.tokens.Issue(user.ID, user.Username)
		if err != nil {
			s.writeAuthError(w, "login", err)
			return
		}
		resp.Token = token
		resp.ExpiresAt = &exp
	}
	s.log.Info("user logged in", "user", user.ID, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	userID := r.URL.Query().Get("userId")
	if q == "" || userID == "" {
		writeJSON(w, http.StatusOK, []models.Friend{})
		return
	}
	results, err := s.dir.Search(q, userID)
	if err != nil {
		f := failure("search", err)
		writeJSON(w, statusFor(f.Code), f)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
	}
	port := portOf(s.config.Addr)
	if local, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		port = portOf(local.String())
	}
	writeJSON(w, http.StatusOK, serverInfo{
		Host:        host,
		PublicIP:    s.config.PublicIP,
		Port:        port,
		UsersCount:  s.presence.OnlineCount(),
		MaxUsers:    s.presence.MaxOnline(),
		ActiveCalls: s.calls.Count(),
	})
}
