// Package handler is a gin implementation of the portal's api.php contract,
// used for local development and tests.
package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"mailportal/internal/auth"
	"mailportal/internal/models"
)

const (
	ctxAccountID = "AccountID"
	ctxTokenID   = "TokenID"
)

type Handler struct {
	accounts *Accounts
	jwtKey   []byte
	tokenTTL time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewHandler(accounts *Accounts, jwtKey []byte, tokenTTL time.Duration, lgr *slog.Logger) *Handler {
	return &Handler{
		accounts: accounts,
		jwtKey:   jwtKey,
		tokenTTL: tokenTTL,
		log:      lgr,
		revoked:  make(map[string]time.Time),
	}
}

func newErrorResponse(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"code": code, "res": gin.H{"msg": msg}})
}

func newResponse(c *gin.Context, res gin.H) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "res": res})
}

func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Any("/api.php", h.Dispatch)

	return router
}

// Dispatch routes on the action query parameter.
func (h *Handler) Dispatch(c *gin.Context) {
	action := c.Query("action")

	switch {
	case action == "login" && c.Request.Method == http.MethodPost:
		h.Login(c)
	case action == "get_user_info" && c.Request.Method == http.MethodGet:
		h.withAuth(c, h.GetUserInfo)
	case action == "update_user_info" && c.Request.Method == http.MethodPost:
		h.withAuth(c, h.UpdateUserInfo)
	case action == "change_password" && c.Request.Method == http.MethodPost:
		h.withAuth(c, h.ChangePassword)
	case action == "logout" && c.Request.Method == http.MethodPost:
		h.withAuth(c, h.Logout)
	default:
		newErrorResponse(c, http.StatusNotFound, fmt.Sprintf("Unknown action %q", action))
	}
}

func (h *Handler) withAuth(c *gin.Context, next gin.HandlerFunc) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		newErrorResponse(c, http.StatusUnauthorized, "Missing authorization token")

		return
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		newErrorResponse(c, http.StatusUnauthorized, "Invalid authorization header")

		return
	}

	claims, err := auth.ParseJWT(h.jwtKey, parts[1])
	if err != nil {
		newErrorResponse(c, http.StatusUnauthorized, "Invalid or expired token")

		return
	}

	if h.isRevoked(claims.ID) {
		newErrorResponse(c, http.StatusUnauthorized, "Token has been revoked")

		return
	}

	c.Set(ctxAccountID, claims.UserID)
	c.Set(ctxTokenID, claims.ID)

	next(c)
}

func (h *Handler) isRevoked(tokenID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for id, exp := range h.revoked {
		if now.After(exp) {
			delete(h.revoked, id)
		}
	}

	_, ok := h.revoked[tokenID]
	return ok
}

func (h *Handler) issueToken(profile models.UserProfile) (gin.H, error) {
	token, exp, err := auth.GenerateJWT(h.jwtKey, profile.ID, profile.Username, h.tokenTTL)
	if err != nil {
		return nil, err
	}

	return gin.H{"token": token, "token_exp_at": exp.Unix()}, nil
}

// POST ?action=login
func (h *Handler) Login(c *gin.Context) {
	const op = "handler.Login"

	log := h.log.With(slog.String("op", op))

	var req struct {
		User string `json:"user"`
		Pass string `json:"pass"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error("failed to read request body", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, "Invalid request body")

		return
	}

	if req.User == "" || req.Pass == "" {
		newErrorResponse(c, http.StatusBadRequest, "Username and password are required")

		return
	}

	profile, ok := h.accounts.Authenticate(req.User, req.Pass)
	if !ok {
		log.Info("login rejected", slog.String("user", req.User))

		newErrorResponse(c, http.StatusUnauthorized, "Invalid username or password")

		return
	}

	token, err := h.issueToken(profile)
	if err != nil {
		log.Error("failed to issue token", slog.Any("error", err))

		newErrorResponse(c, http.StatusInternalServerError, "Internal server error")

		return
	}

	log.Info("user login", slog.Int64("user_id", profile.ID))

	newResponse(c, gin.H{
		"msg":          "Login successful",
		"token":        token["token"],
		"token_exp_at": token["token_exp_at"],
		"user_info":    profile,
	})
}

// GET ?action=get_user_info[&renew_token=1]
func (h *Handler) GetUserInfo(c *gin.Context) {
	const op = "handler.GetUserInfo"

	log := h.log.With(slog.String("op", op))

	profile, err := h.accounts.Get(c.GetInt64(ctxAccountID))
	if err != nil {
		newErrorResponse(c, http.StatusUnauthorized, "User not found")

		return
	}

	res := gin.H{"msg": "OK", "user_info": profile}

	if c.Query("renew_token") == "1" {
		token, err := h.issueToken(profile)
		if err != nil {
			log.Error("failed to issue token", slog.Any("error", err))

			newErrorResponse(c, http.StatusInternalServerError, "Internal server error")

			return
		}
		res["renew_token"] = token
	}

	newResponse(c, res)
}

// POST ?action=update_user_info (multipart or urlencoded form)
func (h *Handler) UpdateUserInfo(c *gin.Context) {
	const op = "handler.UpdateUserInfo"

	log := h.log.With(slog.String("op", op))

	id := c.GetInt64(ctxAccountID)

	if !h.accounts.CheckPassword(id, c.PostForm("password")) {
		newErrorResponse(c, http.StatusBadRequest, "Invalid password")

		return
	}

	fullName := strings.TrimSpace(c.PostForm("full_name"))
	if fullName == "" {
		newErrorResponse(c, http.StatusBadRequest, "Full name is required")

		return
	}

	extEmail := strings.TrimSpace(c.PostForm("ext_email"))
	if !IsValidEmail(extEmail) {
		newErrorResponse(c, http.StatusBadRequest, "Invalid email address")

		return
	}

	gender := c.PostForm("gender")
	switch gender {
	case "", "m", "f", "o":
	default:
		newErrorResponse(c, http.StatusBadRequest, "Invalid gender")

		return
	}

	var photo *string
	if fh, err := c.FormFile("photo"); err == nil {
		uri := fmt.Sprintf("/photos/%d/%s", id, fh.Filename)
		photo = &uri
	}

	_, err := h.accounts.Update(id, func(p *models.UserProfile) {
		p.FullName = fullName
		p.ExtEmail = extEmail
		p.Gender = gender
		p.Socials = models.Socials{
			GithubUsername:   c.PostForm("socials[github_username]"),
			TelegramUsername: c.PostForm("socials[telegram_username]"),
			TwitterUsername:  c.PostForm("socials[twitter_username]"),
			DiscordUsername:  c.PostForm("socials[discord_username]"),
		}
		if photo != nil {
			p.Photo = photo
		}
	})
	if err != nil {
		log.Error("failed to update account", slog.Any("error", err))

		newErrorResponse(c, http.StatusUnauthorized, "User not found")

		return
	}

	log.Info("profile updated", slog.Int64("user_id", id))

	newResponse(c, gin.H{"msg": "Profile updated"})
}

// POST ?action=change_password
func (h *Handler) ChangePassword(c *gin.Context) {
	const op = "handler.ChangePassword"

	log := h.log.With(slog.String("op", op))

	var req struct {
		CurPass       string `json:"cur_pass"`
		NewPass       string `json:"new_pass"`
		RetypeNewPass string `json:"retype_new_pass"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		newErrorResponse(c, http.StatusBadRequest, "Invalid request body")

		return
	}

	id := c.GetInt64(ctxAccountID)

	if !h.accounts.CheckPassword(id, req.CurPass) {
		newErrorResponse(c, http.StatusBadRequest, "Current password is incorrect")

		return
	}
	if len(req.NewPass) < 6 {
		newErrorResponse(c, http.StatusBadRequest, "New password must be at least 6 characters long")

		return
	}
	if req.NewPass != req.RetypeNewPass {
		newErrorResponse(c, http.StatusBadRequest, "New passwords do not match")

		return
	}

	if err := h.accounts.SetPassword(id, req.NewPass); err != nil {
		log.Error("failed to set password", slog.Any("error", err))

		newErrorResponse(c, http.StatusInternalServerError, "Internal server error")

		return
	}

	log.Info("password changed", slog.Int64("user_id", id))

	newResponse(c, gin.H{"msg": "Password changed"})
}

// POST ?action=logout
func (h *Handler) Logout(c *gin.Context) {
	tokenID := c.GetString(ctxTokenID)

	h.mu.Lock()
	h.revoked[tokenID] = time.Now().Add(h.tokenTTL)
	h.mu.Unlock()

	h.log.Info("user logout", slog.Int64("user_id", c.GetInt64(ctxAccountID)))

	newResponse(c, gin.H{"msg": "Logout"})
}

func IsValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
