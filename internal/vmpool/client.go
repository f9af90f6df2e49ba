package vmpool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MadHawkx/Synctelly/internal/domain"
)

var ErrNoCapacity = fmt.Errorf("%w: pool has no free machines", domain.ErrAllocationFailed)

// Client — пул виртуальных браузеров одного тарифа.
type Client struct {
	name    string
	baseURL string
	key     string
	http    *http.Client
}

func New(name, baseURL, key string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return c.name }

// Allocate: 204 или пустой ответ — свободных машин нет.
func (c *Client) Allocate(ctx context.Context) (*domain.Assignment, error) {
	resp, err := c.post(ctx, "/assignVM", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, ErrNoCapacity
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s pool status %d", domain.ErrAllocationFailed, c.name, resp.StatusCode)
	}
	var a domain.Assignment
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrAllocationFailed, err)
	}
	if a.ID == "" || a.Host == "" {
		return nil, ErrNoCapacity
	}
	return &a, nil
}

// Release: неизвестный id не ошибка, повторный вызов безопасен.
func (c *Client) Release(ctx context.Context, id string) error {
	body, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, "/releaseVM", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode >= 300:
		return fmt.Errorf("%s pool release %s: status %d", c.name, id, resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %s pool: %v", domain.ErrAllocationFailed, c.name, err)
		}
		return nil, fmt.Errorf("%s pool %s: %w", c.name, path, err)
	}
	return resp, nil
}
