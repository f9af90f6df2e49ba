package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client ищет клиента платёжной системы по email и смотрит статус подписки.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

func New(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

type customerList struct {
	Data []struct {
		Email         string `json:"email"`
		Subscriptions struct {
			Data []struct {
				Status string `json:"status"`
			} `json:"data"`
		} `json:"subscriptions"`
	} `json:"data"`
}

// IsActiveSubscriber: активна первая подписка первого найденного клиента.
func (c *Client) IsActiveSubscriber(ctx context.Context, email string) (bool, error) {
	q := url.Values{}
	q.Set("email", email)
	q.Add("expand[]", "data.subscriptions")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/customers?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("billing lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("billing lookup: unexpected status %d", resp.StatusCode)
	}
	var list customerList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return false, fmt.Errorf("billing lookup: decode: %w", err)
	}
	if len(list.Data) == 0 || len(list.Data[0].Subscriptions.Data) == 0 {
		return false, nil
	}
	return list.Data[0].Subscriptions.Data[0].Status == "active", nil
}
