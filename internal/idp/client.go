// Package idp talks to the identity provider's REST auth API. Sign-in, magic
// link delivery and session issuance all stay with the provider.
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pitchai/api/internal/auth"
)

// User is the provider's view of a signed-in user.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// APIError carries the provider's error message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("identity provider returned %d", e.StatusCode)
	}
	return e.Message
}

var ErrNotConfigured = errors.New("identity provider not configured")

type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
}

func NewClient(baseURL, anonKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.anonKey != ""
}

// GetUser verifies an access token with the provider.
func (c *Client) GetUser(ctx context.Context, accessToken string) (User, error) {
	if !c.Configured() {
		return User{}, ErrNotConfigured
	}
	var user User
	err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, accessToken, nil, &user)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return User{}, auth.ErrInvalidToken
		}
		return User{}, err
	}
	if user.ID == "" {
		return User{}, auth.ErrInvalidToken
	}
	return user, nil
}

// SendMagicLink asks the provider to email a sign-in link that lands on redirectTo.
func (c *Client) SendMagicLink(ctx context.Context, email, redirectTo string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	query := url.Values{}
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}
	body := map[string]any{
		"email":       email,
		"create_user": true,
	}
	return c.do(ctx, http.MethodPost, "/auth/v1/otp", query, "", body, nil)
}

// SignOut ends the session behind accessToken on the provider side.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	return c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, accessToken, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	req.Header.Set("apikey", c.anonKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.anonKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
		Error            string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &payload)

	message := payload.Msg
	for _, candidate := range []string{payload.Message, payload.ErrorDescription, payload.Error} {
		if message == "" {
			message = candidate
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}
