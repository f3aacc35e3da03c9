package gateway

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"mailportal/internal/apperr"
	"mailportal/internal/models"
)

type loginRequest struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

type loginRes struct {
	Token      string              `json:"token"`
	TokenExpAt int64               `json:"token_exp_at"`
	UserInfo   *models.UserProfile `json:"user_info"`
}

type renewRes struct {
	UserInfo   *models.UserProfile `json:"user_info"`
	RenewToken struct {
		Token      string `json:"token"`
		TokenExpAt int64  `json:"token_exp_at"`
	} `json:"renew_token"`
}

type changePasswordRequest struct {
	CurPass       string `json:"cur_pass"`
	NewPass       string `json:"new_pass"`
	RetypeNewPass string `json:"retype_new_pass"`
}

func expiry(epoch int64) time.Time {
	if epoch <= 0 {
		return time.Time{}
	}
	return time.Unix(epoch, 0)
}

// Login exchanges identifier and secret for a token and the user's profile.
// The returned token is already held by the gateway.
func (g *Gateway) Login(ctx context.Context, identifier, secret string) (models.LoginResult, error) {
	req, err := g.jsonRequest(ctx, actionQuery{Action: actionLogin}, loginRequest{User: identifier, Pass: secret})
	if err != nil {
		return models.LoginResult{}, &apperr.ProtocolError{Message: "build login request", Err: err}
	}

	var res loginRes
	if err := g.do(req, authenticationFailure, &res); err != nil {
		return models.LoginResult{}, err
	}
	if res.Token == "" || res.UserInfo == nil {
		return models.LoginResult{}, &apperr.ProtocolError{Message: "login response without token or user_info"}
	}

	g.SetToken(res.Token)

	return models.LoginResult{
		Credentials: models.Credentials{Token: res.Token, ExpiresAt: expiry(res.TokenExpAt)},
		User:        *res.UserInfo,
	}, nil
}

// FetchAndRenewProfile reloads the profile and rotates the token in one call.
func (g *Gateway) FetchAndRenewProfile(ctx context.Context) (models.ProfileRenewal, error) {
	if g.Token() == "" {
		return models.ProfileRenewal{}, &apperr.SessionError{Message: "Not logged in"}
	}

	req, err := g.newRequest(ctx, http.MethodGet, actionQuery{Action: actionGetUserInfo, RenewToken: 1}, nil, "")
	if err != nil {
		return models.ProfileRenewal{}, &apperr.ProtocolError{Message: "build user info request", Err: err}
	}

	var res renewRes
	if err := g.do(req, sessionFailure, &res); err != nil {
		return models.ProfileRenewal{}, err
	}
	if res.UserInfo == nil || res.RenewToken.Token == "" {
		return models.ProfileRenewal{}, &apperr.ProtocolError{Message: "user info response without user_info or renew_token"}
	}

	g.SetToken(res.RenewToken.Token)

	return models.ProfileRenewal{
		Credentials: models.Credentials{Token: res.RenewToken.Token, ExpiresAt: expiry(res.RenewToken.TokenExpAt)},
		User:        *res.UserInfo,
	}, nil
}

// UpdateProfile posts the profile form. The response carries no profile;
// callers re-fetch it.
func (g *Gateway) UpdateProfile(ctx context.Context, upd models.ProfileUpdate) error {
	body, contentType, err := profileForm(upd)
	if err != nil {
		return &apperr.ProtocolError{Message: "build profile form", Err: err}
	}

	req, err := g.newRequest(ctx, http.MethodPost, actionQuery{Action: actionUpdateUserInfo}, body, contentType)
	if err != nil {
		return &apperr.ProtocolError{Message: "build profile request", Err: err}
	}

	return g.do(req, validationFailure, nil)
}

func (g *Gateway) ChangePassword(ctx context.Context, pc models.PasswordChange) error {
	req, err := g.jsonRequest(ctx, actionQuery{Action: actionChangePassword}, changePasswordRequest{
		CurPass:       pc.Current,
		NewPass:       pc.New,
		RetypeNewPass: pc.Confirm,
	})
	if err != nil {
		return &apperr.ProtocolError{Message: "build change password request", Err: err}
	}

	return g.do(req, validationFailure, nil)
}

// Logout drops the held token. When remote logout is enabled the portal is
// told first; that call can fail without affecting the result.
func (g *Gateway) Logout(ctx context.Context) {
	if g.remoteLogout && g.Token() != "" {
		req, err := g.newRequest(ctx, http.MethodPost, actionQuery{Action: actionLogout}, nil, "")
		if err == nil {
			err = g.do(req, sessionFailure, nil)
		}
		if err != nil {
			g.log.Warn("remote logout failed", slog.Any("error", err))
		}
	}

	g.ClearToken()
}

func profileForm(upd models.ProfileUpdate) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"full_name", upd.FullName},
		{"ext_email", upd.ExtEmail},
		{"gender", upd.Gender},
		{"password", upd.Password},
		{"socials[github_username]", upd.Socials.GithubUsername},
		{"socials[telegram_username]", upd.Socials.TelegramUsername},
		{"socials[twitter_username]", upd.Socials.TwitterUsername},
		{"socials[discord_username]", upd.Socials.DiscordUsername},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}

	if p := upd.Photo; p != nil && p.Content != nil {
		contentType := p.ContentType
		if contentType == "" {
			contentType = "image/jpeg"
		}
		fileName := p.FileName
		if fileName == "" {
			fileName = "photo.jpg"
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="photo"; filename="`+escapeQuotes(fileName)+`"`)
		h.Set("Content-Type", contentType)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, p.Content); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}

func escapeQuotes(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
