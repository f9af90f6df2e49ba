package abuse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MadHawkx/Synctelly/internal/domain"
)

const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Client проверяет токен reCAPTCHA-подобного сервиса.
type Client struct {
	verifyURL string
	secret    string
	http      *http.Client
}

func New(verifyURL, secret string, timeout time.Duration) *Client {
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		verifyURL: verifyURL,
		secret:    secret,
		http:      &http.Client{Timeout: timeout},
	}
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score"`
	ErrorCodes []string `json:"error-codes"`
}

// Score: если сервис не вернул score, считаем его максимальным.
func (c *Client) Score(ctx context.Context, token string) (domain.AbuseVerdict, error) {
	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.AbuseVerdict{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.AbuseVerdict{}, fmt.Errorf("abuse verify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.AbuseVerdict{}, fmt.Errorf("abuse verify: unexpected status %d", resp.StatusCode)
	}
	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return domain.AbuseVerdict{}, fmt.Errorf("abuse verify: decode: %w", err)
	}

	score := 1.0
	if vr.Score != nil {
		score = *vr.Score
	}
	return domain.AbuseVerdict{Accepted: vr.Success, Score: score}, nil
}
