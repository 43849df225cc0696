// Package mockserver is a development stand-in for the Cafe backend: the
// handful of REST endpoints the client exercises plus a presence WebSocket
// feed. It backs the `cafe mock` command and the integration tests.
package mockserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/scawful/halext-org-sub003/internal/api"
	"github.com/scawful/halext-org-sub003/internal/config"
)

const devToken = "dev-token"

type Server struct {
	cfg    config.MockConfig
	log    zerolog.Logger
	router *chi.Mux
	http   *http.Server

	mu     sync.Mutex
	nextID int64
	tasks  []api.Task

	feedMu sync.Mutex
	feeds  map[*websocket.Conn]struct{}
}

func New(cfg config.MockConfig, log zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		log:    log,
		nextID: 1,
		feeds:  make(map[*websocket.Conn]struct{}),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router so tests can mount the mock on httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(s.log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)

			r.Get("/tasks", s.handleListTasks)
			r.Post("/tasks", s.handleCreateTask)
			r.Post("/tasks/{id}/complete", s.handleCompleteTask)
			r.Get("/chat/models", s.handleChatModels)
			r.Get("/presence", s.handlePresence)
		})
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("starting mock Cafe backend")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.closeFeeds()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	writeJSON(w, http.StatusOK, api.LoginResponse{Token: devToken})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	tasks := make([]api.Task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string][]api.Task{"tasks": tasks})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req api.TaskCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	now := api.Timestamp{Time: time.Now().UTC()}
	s.mu.Lock()
	task := api.Task{
		ID:        s.nextID,
		Title:     req.Title,
		Note:      req.Note,
		DueAt:     req.DueAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.nextID++
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.tasks[i].Completed = true
			s.tasks[i].UpdatedAt = api.Timestamp{Time: time.Now().UTC()}
			writeJSON(w, http.StatusOK, s.tasks[i])
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("task %d not found", id))
}

func (s *Server) handleChatModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models": []api.ChatModel{
			{ID: "gpt-4o", Name: "GPT-4o", Provider: "openai"},
			{ID: "claude-sonnet", Name: "Claude Sonnet", Provider: "anthropic"},
		},
		"current_model":   "gpt-4o",
		"has_credentials": true,
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.feedMu.Lock()
	s.feeds[conn] = struct{}{}
	s.feedMu.Unlock()

	// Drain client frames until the peer goes away.
	go func() {
		defer func() {
			s.feedMu.Lock()
			delete(s.feeds, conn)
			s.feedMu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast pushes a presence frame to every connected feed.
func (s *Server) Broadcast(frameType string, data any) error {
	payload, err := json.Marshal(map[string]any{"type": frameType, "data": data})
	if err != nil {
		return err
	}

	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	for conn := range s.feeds {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			delete(s.feeds, conn)
			conn.Close()
		}
	}
	return nil
}

func (s *Server) closeFeeds() {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	for conn := range s.feeds {
		conn.Close()
		delete(s.feeds, conn)
	}
}
