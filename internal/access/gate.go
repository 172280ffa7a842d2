package access

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy is the access list of one document.
type Policy struct {
	File         string
	RolesAllowed []string
	UsersAllowed []string
}

// PolicySource reads document policies. FilePolicy returns nil, nil when
// the file is unknown.
type PolicySource interface {
	FilePolicy(ctx context.Context, file string) (*Policy, error)
	RoomPolicies(ctx context.Context, roomID string) ([]Policy, error)
}

// RoleResolver resolves the roles of an authenticated user.
type RoleResolver interface {
	UserRoles(ctx context.Context, userID string) ([]string, error)
}

var (
	errUnknownResource = errors.New("unknown resource")
	errEmptyRoom       = errors.New("room has no documents")
)

// Gate decides whether a user may query a file or a room. Every failure,
// lookup errors included, is a denial; the reason is only logged.
type Gate struct {
	policies PolicySource
	roles    RoleResolver
	timeout  time.Duration
}

func NewGate(policies PolicySource, roles RoleResolver, timeout time.Duration) *Gate {
	return &Gate{policies: policies, roles: roles, timeout: timeout}
}

func (g *Gate) Authorize(ctx context.Context, file, userID string) bool {
	ok, reason := g.authorizeFile(ctx, file, userID)
	if !ok {
		log.Info().Str("file", file).Str("user_id", userID).AnErr("reason", reason).Msg("access denied")
	}
	return ok
}

// AuthorizeRoom allows a user on a room only if every document attached to
// it allows them.
func (g *Gate) AuthorizeRoom(ctx context.Context, roomID, userID string) bool {
	ok, reason := g.authorizeRoom(ctx, roomID, userID)
	if !ok {
		log.Info().Str("room_id", roomID).Str("user_id", userID).AnErr("reason", reason).Msg("access denied")
	}
	return ok
}

func (g *Gate) authorizeFile(ctx context.Context, file, userID string) (ok bool, reason error) {
	defer func() {
		if r := recover(); r != nil {
			ok, reason = false, errors.New("policy lookup panicked")
		}
	}()
	ctx, cancel := g.lookupContext(ctx)
	defer cancel()

	policy, err := g.policies.FilePolicy(ctx, file)
	if err != nil {
		return false, err
	}
	if policy == nil {
		return false, errUnknownResource
	}
	roles, err := g.roles.UserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	if !allowed(*policy, userID, roles) {
		return false, errors.New("no matching role or allow-list entry")
	}
	return true, nil
}

func (g *Gate) authorizeRoom(ctx context.Context, roomID, userID string) (ok bool, reason error) {
	defer func() {
		if r := recover(); r != nil {
			ok, reason = false, errors.New("policy lookup panicked")
		}
	}()
	ctx, cancel := g.lookupContext(ctx)
	defer cancel()

	policies, err := g.policies.RoomPolicies(ctx, roomID)
	if err != nil {
		return false, err
	}
	if len(policies) == 0 {
		return false, errEmptyRoom
	}
	roles, err := g.roles.UserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range policies {
		if !allowed(p, userID, roles) {
			return false, errors.New("not allowed on " + p.File)
		}
	}
	return true, nil
}

func (g *Gate) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func allowed(p Policy, userID string, roles []string) bool {
	if userID != "" && slices.Contains(p.UsersAllowed, userID) {
		return true
	}
	for _, r := range roles {
		if slices.Contains(p.RolesAllowed, r) {
			return true
		}
	}
	return false
}
