package permission

import (
	"errors"
	"reflect"
	"testing"

	"github.com/kailas-cloud/docbase/internal/domain"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"any", Any(), false},
		{"guests", Guests(), false},
		{"users", Users(""), false},
		{"users/verified", Users("verified"), false},
		{"user:42", User("42", ""), false},
		{"user:42/unverified", User("42", "unverified"), false},
		{"team:core/owner", Team("core", "owner"), false},
		{"member:m1", Member("m1"), false},
		{"label:vip", Label("vip"), false},
		{"any:1", Role{}, true},
		{"users:1", Role{}, true},
		{"users/banned", Role{}, true},
		{"user", Role{}, true},
		{"team", Role{}, true},
		{"member:m1/x", Role{}, true},
		{"robots", Role{}, true},
		{"user:-bad", Role{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrStructureInvalid) {
					t.Fatalf("expected ErrStructureInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestParse(t *testing.T) {
	p, err := Parse(`update("team:core/owner")`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Action != ActionUpdate || p.Role != Team("core", "owner") {
		t.Errorf("unexpected permission %+v", p)
	}

	for _, bad := range []string{`read(any)`, `fly("any")`, `read("robots")`, ``} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q): expected error", bad)
		}
	}
}

func TestBuilders(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{Read(Any()), `read("any")`},
		{Create(Users("")), `create("users")`},
		{Update(User("1", "verified")), `update("user:1/verified")`},
		{Delete(Label("admin")), `delete("label:admin")`},
		{Write(Team("t", "")), `write("team:t")`},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %s, want %s", tt.got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate([]string{Read(Any()), Write(User("1", ""))}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := Validate([]string{Create(Any())}, ActionRead, ActionUpdate); !errors.Is(err, domain.ErrStructureInvalid) {
		t.Errorf("expected disallowed action error, got %v", err)
	}
	if err := Validate([]string{"nope"}); !errors.Is(err, domain.ErrStructureInvalid) {
		t.Errorf("expected parse error, got %v", err)
	}

	many := make([]string, MaxPermissions+1)
	for i := range many {
		many[i] = Read(Any())
	}
	if err := Validate(many); !errors.Is(err, domain.ErrLimitExceeded) {
		t.Errorf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestAggregate(t *testing.T) {
	got := Aggregate([]string{Write(Any()), Update(Any()), Read(Any()), "junk"})
	want := []string{Create(Any()), Update(Any()), Delete(Any()), Read(Any()), "junk"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAllowed(t *testing.T) {
	perms := []string{Read(Any()), Write(User("1", "")), "junk"}

	tests := []struct {
		name   string
		roles  []string
		action Action
		want   bool
	}{
		{"any reads", []string{"any"}, ActionRead, true},
		{"any cannot delete", []string{"any"}, ActionDelete, false},
		{"write covers delete", []string{"any", "user:1"}, ActionDelete, true},
		{"write covers create", []string{"user:1"}, ActionCreate, true},
		{"other user", []string{"user:2"}, ActionUpdate, false},
		{"no roles", nil, ActionRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Allowed(tt.roles, perms, tt.action); got != tt.want {
				t.Errorf("Allowed = %v, want %v", got, tt.want)
			}
		})
	}
}
