package api

import (
	"context"
	"fmt"
	"net/http"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a bearer token. The caller is responsible
// for persisting the token to the credential store.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var resp LoginResponse
	err := c.DoJSON(ctx, http.MethodPost, "/api/v1/auth/login", LoginRequest{
		Username: username,
		Password: password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

type taskListResponse struct {
	Tasks []Task `json:"tasks"`
}

func (c *Client) Tasks(ctx context.Context) ([]Task, error) {
	var resp taskListResponse
	if err := c.Do(ctx, http.MethodGet, "/api/v1/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) CreateTask(ctx context.Context, req TaskCreate) (*Task, error) {
	var task Task
	if err := c.DoJSON(ctx, http.MethodPost, "/api/v1/tasks", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) CompleteTask(ctx context.Context, id int64) (*Task, error) {
	var task Task
	path := fmt.Sprintf("/api/v1/tasks/%d/complete", id)
	if err := c.Do(ctx, http.MethodPost, path, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) ChatModels(ctx context.Context) (*ChatModels, error) {
	var models ChatModels
	if err := c.Do(ctx, http.MethodGet, "/api/v1/chat/models", nil, &models); err != nil {
		return nil, err
	}
	return &models, nil
}
