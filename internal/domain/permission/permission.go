package permission

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/kailas-cloud/docbase/internal/domain"
)

// Action is a permission action.
type Action string

// Supported actions. ActionWrite is an aggregate of create, update and delete.
const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionWrite  Action = "write"
)

// MaxPermissions caps the number of permission strings per resource.
const MaxPermissions = 100

var (
	permRegex       = regexp.MustCompile(`^(\w+)\("([^"]+)"\)$`)
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,35}$`)
	dimensionRegex  = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,36}$`)
)

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionWrite:
		return true
	}
	return false
}

// Expand returns the concrete actions covered by a.
func (a Action) Expand() []Action {
	if a == ActionWrite {
		return []Action{ActionCreate, ActionUpdate, ActionDelete}
	}
	return []Action{a}
}

// Role names.
const (
	RoleAny    = "any"
	RoleGuests = "guests"
	RoleUsers  = "users"
	RoleUser   = "user"
	RoleTeam   = "team"
	RoleMember = "member"
	RoleLabel  = "label"
)

// Role is a parsed role: name[:identifier][/dimension].
type Role struct {
	Name       string
	Identifier string
	Dimension  string
}

func (r Role) String() string {
	s := r.Name
	if r.Identifier != "" {
		s += ":" + r.Identifier
	}
	if r.Dimension != "" {
		s += "/" + r.Dimension
	}
	return s
}

// Any matches every caller.
func Any() Role { return Role{Name: RoleAny} }

// Guests matches unauthenticated callers.
func Guests() Role { return Role{Name: RoleGuests} }

// Users matches authenticated callers, optionally by status.
func Users(dimension string) Role { return Role{Name: RoleUsers, Dimension: dimension} }

// User matches a single user.
func User(id, dimension string) Role { return Role{Name: RoleUser, Identifier: id, Dimension: dimension} }

// Team matches team members, optionally by team role.
func Team(id, dimension string) Role { return Role{Name: RoleTeam, Identifier: id, Dimension: dimension} }

// Member matches a team membership.
func Member(id string) Role { return Role{Name: RoleMember, Identifier: id} }

// Label matches callers carrying a label.
func Label(name string) Role { return Role{Name: RoleLabel, Identifier: name} }

// ParseRole parses and validates a role string.
func ParseRole(s string) (Role, error) {
	var r Role
	rest := s
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		r.Dimension = rest[i+1:]
		rest = rest[:i]
		if !dimensionRegex.MatchString(r.Dimension) {
			return Role{}, domain.Structure("role %q: invalid dimension", s)
		}
	}
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		r.Identifier = rest[i+1:]
		rest = rest[:i]
		if !identifierRegex.MatchString(r.Identifier) {
			return Role{}, domain.Structure("role %q: invalid identifier", s)
		}
	}
	r.Name = rest

	switch r.Name {
	case RoleAny, RoleGuests:
		if r.Identifier != "" || r.Dimension != "" {
			return Role{}, domain.Structure("role %q takes no identifier or dimension", s)
		}
	case RoleUsers:
		if r.Identifier != "" {
			return Role{}, domain.Structure("role %q takes no identifier", s)
		}
		if r.Dimension != "" && r.Dimension != "verified" && r.Dimension != "unverified" {
			return Role{}, domain.Structure("role %q: dimension must be verified or unverified", s)
		}
	case RoleUser:
		if r.Identifier == "" {
			return Role{}, domain.Structure("role %q requires an identifier", s)
		}
		if r.Dimension != "" && r.Dimension != "verified" && r.Dimension != "unverified" {
			return Role{}, domain.Structure("role %q: dimension must be verified or unverified", s)
		}
	case RoleTeam:
		if r.Identifier == "" {
			return Role{}, domain.Structure("role %q requires an identifier", s)
		}
	case RoleMember, RoleLabel:
		if r.Identifier == "" {
			return Role{}, domain.Structure("role %q requires an identifier", s)
		}
		if r.Dimension != "" {
			return Role{}, domain.Structure("role %q takes no dimension", s)
		}
	default:
		return Role{}, domain.Structure("unknown role %q", r.Name)
	}
	return r, nil
}

// Permission grants an action to a role.
type Permission struct {
	Action Action
	Role   Role
}

func (p Permission) String() string {
	return fmt.Sprintf("%s(%q)", p.Action, p.Role.String())
}

// Parse parses a permission string such as read("user:42").
func Parse(s string) (Permission, error) {
	m := permRegex.FindStringSubmatch(s)
	if m == nil {
		return Permission{}, domain.Structure("invalid permission %q", s)
	}
	action := Action(m[1])
	if !action.IsValid() {
		return Permission{}, domain.Structure("invalid permission action %q", m[1])
	}
	role, err := ParseRole(m[2])
	if err != nil {
		return Permission{}, err
	}
	return Permission{Action: action, Role: role}, nil
}

// Read builds a read permission string.
func Read(r Role) string { return Permission{Action: ActionRead, Role: r}.String() }

// Create builds a create permission string.
func Create(r Role) string { return Permission{Action: ActionCreate, Role: r}.String() }

// Update builds an update permission string.
func Update(r Role) string { return Permission{Action: ActionUpdate, Role: r}.String() }

// Delete builds a delete permission string.
func Delete(r Role) string { return Permission{Action: ActionDelete, Role: r}.String() }

// Write builds a write permission string.
func Write(r Role) string { return Permission{Action: ActionWrite, Role: r}.String() }

// Validate checks every permission string against the grammar.
// allowed restricts the accepted actions; nil accepts all.
func Validate(perms []string, allowed ...Action) error {
	if len(perms) > MaxPermissions {
		return domain.NewLimitError("permissions", MaxPermissions)
	}
	for _, s := range perms {
		p, err := Parse(s)
		if err != nil {
			return err
		}
		if len(allowed) > 0 && !slices.Contains(allowed, p.Action) {
			return domain.Structure("permission action %q not allowed here", p.Action)
		}
	}
	return nil
}

// Aggregate expands write permissions into create, update and delete
// and removes duplicates, preserving order.
func Aggregate(perms []string) []string {
	out := make([]string, 0, len(perms))
	seen := make(map[string]bool, len(perms))
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range perms {
		p, err := Parse(s)
		if err != nil {
			add(s)
			continue
		}
		for _, a := range p.Action.Expand() {
			add(Permission{Action: a, Role: p.Role}.String())
		}
	}
	return out
}

// RolesFor returns the roles granted action by perms. Unparseable entries are ignored.
func RolesFor(perms []string, action Action) []string {
	var roles []string
	for _, s := range perms {
		p, err := Parse(s)
		if err != nil {
			continue
		}
		if slices.Contains(p.Action.Expand(), action) {
			role := p.Role.String()
			if !slices.Contains(roles, role) {
				roles = append(roles, role)
			}
		}
	}
	return roles
}

// Allowed reports whether any caller role is granted action by perms.
func Allowed(roles, perms []string, action Action) bool {
	for _, r := range RolesFor(perms, action) {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}
