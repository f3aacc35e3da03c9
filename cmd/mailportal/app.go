package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mailportal/internal/apperr"
	"mailportal/internal/config"
	"mailportal/internal/gateway"
	"mailportal/internal/mailconfig"
	"mailportal/internal/models"
	"mailportal/internal/session"
	"mailportal/internal/storage"
	"mailportal/internal/validation"
)

var errNotLoggedIn = &apperr.SessionError{Message: "Not logged in, run `mailportal login` first"}

type app struct {
	cfg     *config.Config
	log     *slog.Logger
	storage storage.Storage
	store   *session.Store
}

// newApp wires configuration, storage, gateway and session store, and
// rehydrates the stored session.
func newApp(ctx context.Context, configPath string, logOut io.Writer) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	lgr := setupLogger(cfg.Env, logOut)

	st, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	gw, err := gateway.New(cfg.API, nil, lgr.With(slog.String("component", "gateway")))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	store := session.New(gw, st, lgr.With(slog.String("component", "session")))
	store.Initialize(ctx)

	return &app{
		cfg:     cfg,
		log:     lgr,
		storage: st,
		store:   store,
	}, nil
}

func (a *app) Close() {
	if err := a.storage.Close(); err != nil {
		a.log.Warn("failed to close storage", slog.Any("error", err))
	}
}

func (a *app) requireSession() error {
	if !a.store.IsAuthenticated() {
		return errNotLoggedIn
	}
	return nil
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "mailportal",
		Short:         "Manage your webmail portal account",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("MAILPORTAL_CONFIG"), "path to config file (env only when empty)")

	withApp := func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			return run(cmd, a, args)
		}
	}

	root.AddCommand(
		loginCmd(withApp),
		logoutCmd(withApp),
		whoamiCmd(withApp),
		profileCmd(withApp),
		passwordCmd(withApp),
		mailConfigCmd(&configPath),
	)

	return root
}

type appRunner func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func readSecret(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func loginCmd(withApp appRunner) *cobra.Command {
	var (
		user          string
		password      string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if passwordStdin {
				secret, err := readSecret(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = secret
			}
			if user == "" || password == "" {
				return &apperr.ValidationError{Message: "Username and password are required"}
			}

			if err := a.store.Login(cmd.Context(), user, password); err != nil {
				return err
			}

			st := a.store.State()
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", st.User.Username, st.User.FullName)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "username or email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")

	return cmd
}

func logoutCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the stored session",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			a.store.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		}),
	}
}

func whoamiCmd(withApp appRunner) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in profile, refreshing it from the portal",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			if !offline {
				if err := a.store.Refresh(cmd.Context()); err != nil {
					return err
				}
			}

			return printProfile(cmd.OutOrStdout(), a.store.State())
		}),
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "show the stored profile without contacting the portal")

	return cmd
}

func printProfile(w io.Writer, st session.State) error {
	u := st.User

	photo := "-"
	if u.Photo != nil && *u.Photo != "" {
		photo = *u.Photo
	}
	active := "no"
	if u.Active() {
		active = "yes"
	}
	expires := "unknown"
	if !st.Credentials.ExpiresAt.IsZero() {
		expires = st.Credentials.ExpiresAt.Local().Format(time.RFC1123)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"ID", fmt.Sprint(u.ID)},
		{"Username", u.Username},
		{"Full name", u.FullName},
		{"Email", u.ExtEmail},
		{"Gender", genderLabel(u.Gender)},
		{"Role", u.Role},
		{"Active", active},
		{"Photo", photo},
		{"GitHub", u.Socials.GithubUsername},
		{"Telegram", u.Socials.TelegramUsername},
		{"Twitter", u.Socials.TwitterUsername},
		{"Discord", u.Socials.DiscordUsername},
		{"Token expires", expires},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r[0], r[1])
	}

	return tw.Flush()
}

func genderLabel(code string) string {
	switch code {
	case "m":
		return "Male"
	case "f":
		return "Female"
	case "":
		return "-"
	default:
		return "Other"
	}
}

func profileCmd(withApp appRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Edit your profile",
	}

	var (
		fullName, email, gender, password, photoPath string
		github, telegram, twitter, discord           string
		passwordStdin                                bool
	)

	update := &cobra.Command{
		Use:   "update",
		Short: "Update profile fields; unset flags keep their current value",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			if passwordStdin {
				secret, err := readSecret(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = secret
			}

			current := a.store.State().User
			upd := models.ProfileUpdate{
				FullName: current.FullName,
				ExtEmail: current.ExtEmail,
				Gender:   current.Gender,
				Password: password,
				Socials:  current.Socials,
			}

			flags := cmd.Flags()
			set := func(name string, dst *string, value string) {
				if flags.Changed(name) {
					*dst = value
				}
			}
			set("full-name", &upd.FullName, fullName)
			set("email", &upd.ExtEmail, email)
			set("gender", &upd.Gender, gender)
			set("github", &upd.Socials.GithubUsername, github)
			set("telegram", &upd.Socials.TelegramUsername, telegram)
			set("twitter", &upd.Socials.TwitterUsername, twitter)
			set("discord", &upd.Socials.DiscordUsername, discord)

			if err := validation.ProfileUpdate(upd); err != nil {
				return err
			}

			if photoPath != "" {
				f, err := os.Open(photoPath)
				if err != nil {
					return fmt.Errorf("open photo: %w", err)
				}
				defer f.Close()

				upd.Photo = &models.Photo{
					FileName:    filepath.Base(photoPath),
					ContentType: mime.TypeByExtension(filepath.Ext(photoPath)),
					Content:     f,
				}
			}

			if err := a.store.UpdateProfile(cmd.Context(), upd); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Profile updated successfully!")
			return printProfile(cmd.OutOrStdout(), a.store.State())
		}),
	}

	f := update.Flags()
	f.StringVar(&fullName, "full-name", "", "full name")
	f.StringVar(&email, "email", "", "external email")
	f.StringVar(&gender, "gender", "", "gender code: m, f or o")
	f.StringVar(&github, "github", "", "GitHub username")
	f.StringVar(&telegram, "telegram", "", "Telegram username")
	f.StringVar(&twitter, "twitter", "", "Twitter username")
	f.StringVar(&discord, "discord", "", "Discord username")
	f.StringVar(&photoPath, "photo", "", "path to a new profile photo")
	f.StringVarP(&password, "password", "p", "", "current account password (required)")
	f.BoolVar(&passwordStdin, "password-stdin", false, "read the current password from stdin")

	cmd.AddCommand(update)

	return cmd
}

func passwordCmd(withApp appRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Manage your account password",
	}

	var current, next, confirm string

	change := &cobra.Command{
		Use:   "change",
		Short: "Change the account password",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}

			pc := models.PasswordChange{Current: current, New: next, Confirm: confirm}
			if err := validation.PasswordChange(pc); err != nil {
				return err
			}

			if err := a.store.ChangePassword(cmd.Context(), current, next, confirm); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Password changed successfully!")
			return nil
		}),
	}

	change.Flags().StringVar(&current, "current", "", "current password")
	change.Flags().StringVar(&next, "new", "", "new password")
	change.Flags().StringVar(&confirm, "confirm", "", "new password again")

	cmd.AddCommand(change)

	return cmd
}

// mailConfigCmd needs no session, so it only loads configuration.
func mailConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mail-config",
		Short: "Show IMAP/SMTP settings for your mail client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}

			return mailconfig.FromConfig(cfg.MailServer).Render(cmd.OutOrStdout())
		},
	}
}
