package models

import (
	"io"
	"time"
)

type Socials struct {
	GithubUsername   string `json:"github_username"`
	TelegramUsername string `json:"telegram_username"`
	TwitterUsername  string `json:"twitter_username"`
	DiscordUsername  string `json:"discord_username"`
}

// UserProfile is the user_info record returned by the portal. It is replaced
// wholesale on every fetch, never merged.
type UserProfile struct {
	ID       int64   `json:"id"`
	FullName string  `json:"full_name"`
	Gender   string  `json:"gender"`
	Username string  `json:"username"`
	ExtEmail string  `json:"ext_email"`
	Role     string  `json:"role"`
	IsActive string  `json:"is_active"`
	Socials  Socials `json:"socials"`
	Photo    *string `json:"photo"`
}

func (u UserProfile) Active() bool {
	return u.IsActive == "1" || u.IsActive == "true"
}

type Credentials struct {
	Token     string
	ExpiresAt time.Time // zero when unknown, e.g. after rehydration
}

// LoginResult is what a successful login yields.
type LoginResult struct {
	Credentials Credentials
	User        UserProfile
}

// ProfileRenewal is a refreshed profile together with the token issued alongside it.
type ProfileRenewal struct {
	Credentials Credentials
	User        UserProfile
}

type Photo struct {
	FileName    string
	ContentType string
	Content     io.Reader
}

// ProfileUpdate carries the editable profile fields. Password is the current
// account password, which the portal requires for every edit.
type ProfileUpdate struct {
	FullName string `validate:"required" json:"full_name"`
	ExtEmail string `validate:"required,email" json:"ext_email"`
	Gender   string `validate:"omitempty,oneof=m f o" json:"gender"`
	Password string `validate:"required" json:"password"`
	Socials  Socials
	Photo    *Photo
}

type PasswordChange struct {
	Current string `validate:"required" json:"cur_pass"`
	New     string `validate:"required,min=6,nefield=Current" json:"new_pass"`
	Confirm string `validate:"required,eqfield=New" json:"retype_new_pass"`
}
