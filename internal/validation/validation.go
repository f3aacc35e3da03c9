// Package validation runs the advisory form checks done before a profile or
// password change is sent. The portal stays authoritative.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"mailportal/internal/apperr"
	"mailportal/internal/models"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// messages maps (field, tag) to the text shown to the user.
var messages = map[string]map[string]string{
	"full_name": {
		"required": "Full name is required",
	},
	"ext_email": {
		"required": "Email is required",
		"email":    "Email must be a valid email address",
	},
	"gender": {
		"oneof": "Gender must be one of m, f or o",
	},
	"password": {
		"required": "Password is required to update profile",
	},
	"cur_pass": {
		"required": "Current password is required",
	},
	"new_pass": {
		"required": "New password is required",
		"min":      "New password must be at least %s characters long",
		"nefield":  "New password must be different from current password",
	},
	"retype_new_pass": {
		"required": "Please confirm your new password",
		"eqfield":  "New passwords do not match",
	},
}

func parseMessage(e validator.FieldError) string {
	if byTag, ok := messages[e.Field()]; ok {
		if msg, ok := byTag[e.Tag()]; ok {
			if strings.Contains(msg, "%s") {
				return fmt.Sprintf(msg, e.Param())
			}
			return msg
		}
	}
	return fmt.Sprintf("Field '%s' is invalid: %s", e.Field(), e.Tag())
}

// order lists fields in form order so the first reported message is the one
// a user would hit first.
var order = []string{"full_name", "ext_email", "gender", "password", "cur_pass", "new_pass", "retype_new_pass"}

func check(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	fields := make(map[string]string, len(validationErrs))
	for _, e := range validationErrs {
		if _, seen := fields[e.Field()]; !seen {
			fields[e.Field()] = parseMessage(e)
		}
	}

	first := ""
	for _, name := range order {
		if msg, ok := fields[name]; ok {
			first = msg
			break
		}
	}
	if first == "" {
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		first = fields[names[0]]
	}

	return &apperr.ValidationError{Message: first, Fields: fields}
}

// ProfileUpdate requires name, a valid email and the current password.
func ProfileUpdate(upd models.ProfileUpdate) error {
	upd.FullName = strings.TrimSpace(upd.FullName)
	upd.ExtEmail = strings.TrimSpace(upd.ExtEmail)
	upd.Password = strings.TrimSpace(upd.Password)

	return check(upd)
}

// PasswordChange requires all three fields, a new password of at least six
// characters that differs from the current one, and a matching confirmation.
func PasswordChange(pc models.PasswordChange) error {
	trimmed := pc
	trimmed.Current = strings.TrimSpace(pc.Current)
	if strings.TrimSpace(pc.New) == "" {
		trimmed.New = ""
	}

	return check(trimmed)
}
