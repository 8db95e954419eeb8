package authcore

import "github.com/kuraykaraaslan/authcore/user"

// roleOrder lists roles by privilege, most privileged first. A caller
// satisfies a requirement when their index is at or before the
// required role's index.
var roleOrder = []user.Role{
	user.RoleSuperAdmin,
	user.RoleAdmin,
	user.RoleUser,
	user.RoleGuest,
}

func roleIndex(r user.Role) int {
	for i, candidate := range roleOrder {
		if candidate == r {
			return i
		}
	}
	return len(roleOrder)
}

// RoleSatisfies reports whether have meets the privilege bar set by
// want. Unknown roles rank below GUEST and satisfy nothing.
func RoleSatisfies(have, want user.Role) bool {
	return roleIndex(have) <= roleIndex(want)
}
