// Package gateway is the HTTP client for the portal's api.php endpoint. Every
// operation is selected by the action query parameter and answered with a
// {code, res} envelope.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/go-querystring/query"
	"github.com/google/uuid"

	"mailportal/internal/apperr"
	"mailportal/internal/config"
)

const (
	actionLogin          = "login"
	actionGetUserInfo    = "get_user_info"
	actionUpdateUserInfo = "update_user_info"
	actionChangePassword = "change_password"
	actionLogout         = "logout"

	codeSuccess      = 200
	codeUnauthorized = 401

	maxResponseSize = 4 << 20
)

type actionQuery struct {
	Action     string `url:"action"`
	RenewToken int    `url:"renew_token,omitempty"`
}

type envelope struct {
	Code *int            `json:"code"`
	Res  json.RawMessage `json:"res"`
}

type resMessage struct {
	Msg string `json:"msg"`
}

// failure builds the domain error for a non-success application code.
type failure func(code int, msg string) error

type Gateway struct {
	baseURL      *url.URL
	client       *http.Client
	remoteLogout bool
	log          *slog.Logger

	mu    sync.RWMutex
	token string
}

// New returns a Gateway for cfg.BaseURL. A nil client gets one with cfg.Timeout.
func New(cfg config.API, client *http.Client, log *slog.Logger) (*Gateway, error) {
	const op = "gateway.New"

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%s: base url %q is not absolute", op, cfg.BaseURL)
	}

	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Gateway{
		baseURL:      base,
		client:       client,
		remoteLogout: cfg.RemoteLogout,
		log:          log,
	}, nil
}

func (g *Gateway) SetToken(token string) {
	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
}

func (g *Gateway) ClearToken() {
	g.SetToken("")
}

// Token returns the held bearer token, empty when there is none.
func (g *Gateway) Token() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.token
}

func (g *Gateway) actionURL(q actionQuery) (string, error) {
	values, err := query.Values(q)
	if err != nil {
		return "", err
	}

	u := *g.baseURL
	merged := u.Query()
	for k, v := range values {
		merged[k] = v
	}
	u.RawQuery = merged.Encode()

	return u.String(), nil
}

func (g *Gateway) newRequest(ctx context.Context, method string, q actionQuery, body io.Reader, contentType string) (*http.Request, error) {
	target, err := g.actionURL(q)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := g.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}

func (g *Gateway) jsonRequest(ctx context.Context, q actionQuery, payload any) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return g.newRequest(ctx, http.MethodPost, q, bytes.NewReader(data), "application/json")
}

// do sends req and decodes res into out. Transport, envelope and application
// failures come back as apperr values.
func (g *Gateway) do(req *http.Request, fail failure, out any) error {
	log := g.log.With(
		slog.String("action", req.URL.Query().Get("action")),
		slog.String("request_id", req.Header.Get("X-Request-Id")),
	)

	resp, err := g.client.Do(req)
	if err != nil {
		log.Warn("request failed", slog.Any("error", err))

		return &apperr.TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &apperr.TransportError{Err: err}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Error("malformed response", slog.Int("status", resp.StatusCode), slog.Any("error", err))

		return &apperr.ProtocolError{Message: fmt.Sprintf("decode response (http %d)", resp.StatusCode), Err: err}
	}
	if env.Code == nil {
		return &apperr.ProtocolError{Message: fmt.Sprintf("response without code (http %d)", resp.StatusCode)}
	}

	if *env.Code != codeSuccess {
		var m resMessage
		if len(env.Res) > 0 {
			_ = json.Unmarshal(env.Res, &m)
		}

		log.Info("request rejected", slog.Int("code", *env.Code), slog.String("msg", m.Msg))

		return fail(*env.Code, m.Msg)
	}

	if out == nil {
		return nil
	}
	if len(env.Res) == 0 {
		return &apperr.ProtocolError{Message: "response without res"}
	}
	if err := json.Unmarshal(env.Res, out); err != nil {
		return &apperr.ProtocolError{Message: "decode res", Err: err}
	}

	log.Debug("request succeeded")

	return nil
}

func authenticationFailure(code int, msg string) error {
	return &apperr.AuthenticationError{Code: code, Message: msg}
}

func sessionFailure(code int, msg string) error {
	return &apperr.SessionError{Code: code, Message: msg}
}

// validationFailure treats an unauthorized code as a session problem: the
// field values were never looked at.
func validationFailure(code int, msg string) error {
	if code == codeUnauthorized {
		return sessionFailure(code, msg)
	}
	return &apperr.ValidationError{Code: code, Message: msg}
}
