// Package auth decides which users may read datasets over the network.
package auth

// RoleReader grants access to filtered dataset rows.
const RoleReader = "reader"

type RoleManager interface {
	HasRole(username, role string) bool
}

// StaticRoles is a fixed user to roles table. It is safe for concurrent
// use since it is never modified after construction.
type StaticRoles struct {
	users map[string]map[string]bool
}

// NewStaticRoles copies roles into a StaticRoles.
func NewStaticRoles(roles map[string][]string) *StaticRoles {
	users := make(map[string]map[string]bool, len(roles))
	for name, rs := range roles {
		set := make(map[string]bool, len(rs))
		for _, r := range rs {
			set[r] = true
		}
		users[name] = set
	}
	return &StaticRoles{users: users}
}

// Readers grants RoleReader to every name in usernames.
func Readers(usernames ...string) *StaticRoles {
	roles := make(map[string][]string, len(usernames))
	for _, u := range usernames {
		roles[u] = []string{RoleReader}
	}
	return NewStaticRoles(roles)
}

func (s *StaticRoles) HasRole(username, role string) bool {
	return s.users[username][role]
}
