package auth

import (
	"context"
)

// Role is the label attached to a session. The empty role means the user is
// authenticated but holds no privileges.
type Role string

const (
	RoleAdmin Role = "admin"
	NoRole    Role = ""
)

// Identity is the signed-in principal.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Session is the console's view of who is calling. Sessions are issued
// elsewhere; this package only reads them from verified tokens.
type Session struct {
	Identity *Identity `json:"identity,omitempty"`
	Role     Role      `json:"role,omitempty"`
	Resolved bool      `json:"resolved"`
	Token    string    `json:"-"`
}

// Anonymous reports whether no identity is attached.
func (s Session) Anonymous() bool {
	return s.Identity == nil
}

// Ready reports whether privileged data may be fetched for s: the session is
// resolved, signed in and carries a role.
func (s Session) Ready() bool {
	return s.Resolved && s.Identity != nil && s.Role != NoRole
}

// Key identifies the (identity, role) pair that data was fetched for.
// It is empty unless s is Ready.
func (s Session) Key() string {
	if !s.Ready() {
		return ""
	}
	return s.Identity.ID + "\x00" + string(s.Role)
}

type sessionKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session stored by the session middleware.
// A context without one yields an unresolved session.
func SessionFromContext(ctx context.Context) Session {
	s, _ := ctx.Value(sessionKey{}).(Session)
	return s
}
