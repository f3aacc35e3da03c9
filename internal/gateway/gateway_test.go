package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailportal/internal/apperr"
	"mailportal/internal/config"
	"mailportal/internal/handler"
	"mailportal/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()

	gin.SetMode(gin.TestMode)

	accounts := handler.NewAccounts()
	_, err := accounts.Add(models.UserProfile{
		FullName: "Alice Doe",
		Username: "alice",
		ExtEmail: "alice@example.org",
		Gender:   "f",
	}, "correct")
	require.NoError(t, err)

	h := handler.NewHandler(accounts, []byte("test-secret"), time.Hour, discardLogger())
	srv := httptest.NewServer(h.InitRoutes())
	t.Cleanup(srv.Close)

	return srv
}

func newGateway(t *testing.T, baseURL string, remoteLogout bool) *Gateway {
	t.Helper()

	g, err := New(config.API{BaseURL: baseURL, Timeout: 5 * time.Second, RemoteLogout: remoteLogout}, nil, discardLogger())
	require.NoError(t, err)

	return g
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New(config.API{BaseURL: "api.php"}, nil, nil)
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	srv := newBackend(t)
	g := newGateway(t, srv.URL+"/api.php", false)

	res, err := g.Login(context.Background(), "alice@example.org", "correct")
	require.NoError(t, err)

	assert.NotEmpty(t, res.Credentials.Token)
	assert.Equal(t, res.Credentials.Token, g.Token())
	assert.True(t, res.Credentials.ExpiresAt.After(time.Now()))
	assert.Equal(t, "Alice Doe", res.User.FullName)
	assert.Equal(t, "alice", res.User.Username)
}

func TestLoginRejected(t *testing.T) {
	srv := newBackend(t)
	g := newGateway(t, srv.URL+"/api.php", false)

	_, err := g.Login(context.Background(), "alice", "nope")

	var authErr *apperr.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Invalid username or password", authErr.Message)
	assert.Empty(t, g.Token())
}

func TestFetchAndRenewProfile(t *testing.T) {
	srv := newBackend(t)
	g := newGateway(t, srv.URL+"/api.php", false)

	_, err := g.FetchAndRenewProfile(context.Background())
	var sessErr *apperr.SessionError
	require.ErrorAs(t, err, &sessErr)

	login, err := g.Login(context.Background(), "alice", "correct")
	require.NoError(t, err)

	renewal, err := g.FetchAndRenewProfile(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, login.Credentials.Token, renewal.Credentials.Token)
	assert.Equal(t, renewal.Credentials.Token, g.Token())
	assert.Equal(t, login.User, renewal.User)
}

func TestFetchWithRejectedToken(t *testing.T) {
	srv := newBackend(t)
	g := newGateway(t, srv.URL+"/api.php", false)
	g.SetToken("forged")

	_, err := g.FetchAndRenewProfile(context.Background())

	var sessErr *apperr.SessionError
	require.ErrorAs(t, err, &sessErr)
	assert.Equal(t, "Invalid or expired token", sessErr.Message)
	assert.Equal(t, "forged", g.Token())
}

func TestUpdateProfile(t *testing.T) {
	srv := newBackend(t)
	g := newGateway(t, srv.URL+"/api.php", false)
	ctx := context.Background()

	_, err := g.Login(ctx, "alice", "correct")
	require.NoError(t, err)

	err = g.UpdateProfile(ctx, models.ProfileUpdate{
		FullName: "Alice Cooper",
		ExtEmail: "alice@cooper.example",
		Gender:   "f",
		Password: "correct",
		Socials:  models.Socials{TelegramUsername: "alice_tg"},
		Photo: &models.Photo{
			FileName:    "me.png",
			ContentType: "image/png",
			Content:     strings.NewReader("\x89PNG"),
		},
	})
	require.NoError(t, err)

	renewal, err := g.FetchAndRenewProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alice Cooper", renewal.User.FullName)
	assert.Equal(t, "alice_tg", renewal.User.Socials.TelegramUsername)
	require.NotNil(t, renewal.User.Photo)
	assert.Contains(t, *renewal.User.Photo, "me.png")

	err = g.UpdateProfile(ctx, models.ProfileUpdate{FullName: "X", ExtEmail: "x@example.org", Password: "wrong"})
	var validErr *apperr.ValidationError
	require.ErrorAs(t, err, &validErr)
	assert.Equal(t, "Invalid password", validErr.Message)
}

func TestChangePassword(t *testing.T) {
	srv := newBackend(t)
	g := newGateway(t, srv.URL+"/api.php", false)
	ctx := context.Background()

	_, err := g.Login(ctx, "alice", "correct")
	require.NoError(t, err)

	err = g.ChangePassword(ctx, models.PasswordChange{Current: "wrong", New: "new123456", Confirm: "new123456"})
	var validErr *apperr.ValidationError
	require.ErrorAs(t, err, &validErr)
	assert.Equal(t, "Current password is incorrect", validErr.Message)

	require.NoError(t, g.ChangePassword(ctx, models.PasswordChange{Current: "correct", New: "new123456", Confirm: "new123456"}))
}

func TestUnauthenticatedUpdateIsSessionError(t *testing.T) {
	srv := newBackend(t)
	g := newGateway(t, srv.URL+"/api.php", false)

	err := g.ChangePassword(context.Background(), models.PasswordChange{Current: "a", New: "bbbbbb", Confirm: "bbbbbb"})

	var sessErr *apperr.SessionError
	assert.ErrorAs(t, err, &sessErr)
}

func TestLogout(t *testing.T) {
	srv := newBackend(t)
	ctx := context.Background()

	g := newGateway(t, srv.URL+"/api.php", true)
	login, err := g.Login(ctx, "alice", "correct")
	require.NoError(t, err)

	g.Logout(ctx)
	assert.Empty(t, g.Token())

	g.SetToken(login.Credentials.Token)
	_, err = g.FetchAndRenewProfile(ctx)
	var sessErr *apperr.SessionError
	require.ErrorAs(t, err, &sessErr)
	assert.Equal(t, "Token has been revoked", sessErr.Message)
}

func TestLogoutSurvivesRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>bad gateway</html>")
	}))
	defer srv.Close()

	g := newGateway(t, srv.URL, true)
	g.SetToken("abc123")

	g.Logout(context.Background())
	assert.Empty(t, g.Token())

	g = newGateway(t, "http://127.0.0.1:1/api.php", true)
	g.SetToken("abc123")

	g.Logout(context.Background())
	assert.Empty(t, g.Token())
}

func TestProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>oops</html>"},
		{name: "missing code", body: `{"res":{"msg":"hi"}}`},
		{name: "missing token", body: `{"code":200,"res":{"msg":"ok","user_info":{"id":1}}}`},
		{name: "res wrong shape", body: `{"code":200,"res":"ok"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			g := newGateway(t, srv.URL, false)
			_, err := g.Login(context.Background(), "alice", "correct")

			var protoErr *apperr.ProtocolError
			assert.ErrorAs(t, err, &protoErr)
			assert.False(t, apperr.Retryable(err))
			assert.Empty(t, g.Token())
		})
	}
}

func TestTransportError(t *testing.T) {
	g := newGateway(t, "http://127.0.0.1:1/api.php", false)

	_, err := g.Login(context.Background(), "alice", "correct")

	var transportErr *apperr.TransportError
	assert.ErrorAs(t, err, &transportErr)
	assert.True(t, apperr.Retryable(err))
}

func TestRequestShape(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_, _ = io.WriteString(w, `{"code":200,"res":{"user_info":{"id":1},"renew_token":{"token":"t2","token_exp_at":1700000000}}}`)
	}))
	defer srv.Close()

	g := newGateway(t, srv.URL+"/api.php?lang=en", false)
	g.SetToken("t1")

	renewal, err := g.FetchAndRenewProfile(context.Background())
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/api.php", got.URL.Path)
	assert.Equal(t, "get_user_info", got.URL.Query().Get("action"))
	assert.Equal(t, "1", got.URL.Query().Get("renew_token"))
	assert.Equal(t, "en", got.URL.Query().Get("lang"))
	assert.Equal(t, "Bearer t1", got.Header.Get("Authorization"))
	assert.NotEmpty(t, got.Header.Get("X-Request-Id"))

	assert.Equal(t, "t2", g.Token())
	assert.Equal(t, time.Unix(1700000000, 0), renewal.Credentials.ExpiresAt)
}
