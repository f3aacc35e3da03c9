package session

import "mailportal/internal/models"

type Phase int

const (
	// PhaseUnknown is only occupied until Initialize finishes.
	PhaseUnknown Phase = iota
	PhaseAnonymous
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseUnknown:
		return "unknown"
	case PhaseAnonymous:
		return "anonymous"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "invalid"
	}
}

// State is an immutable snapshot of who is logged in. User and Credentials
// always come from the same backend response.
type State struct {
	User        *models.UserProfile
	Credentials *models.Credentials
	Loading     bool

	// Generation grows by one on every change; listeners can use it to drop
	// snapshots that arrive out of order.
	Generation uint64
}

func (s State) IsAuthenticated() bool {
	return s.User != nil && s.Credentials != nil
}

func (s State) Phase() Phase {
	switch {
	case s.Loading:
		return PhaseUnknown
	case s.IsAuthenticated():
		return PhaseAuthenticated
	default:
		return PhaseAnonymous
	}
}

func (s State) clone() State {
	out := s
	if s.User != nil {
		u := *s.User
		if s.User.Photo != nil {
			p := *s.User.Photo
			u.Photo = &p
		}
		out.User = &u
	}
	if s.Credentials != nil {
		c := *s.Credentials
		out.Credentials = &c
	}
	return out
}

// Listener receives every new State. It runs on the goroutine that caused
// the change.
type Listener func(State)
