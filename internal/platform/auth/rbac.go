package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

// Roles. Operators create runs and read everything; mentors additionally
// change the safety mode and mint override tokens; admin is mentor plus
// whatever future administration needs.
const (
	RoleOperator = "operator"
	RoleMentor   = "mentor"
	RoleAdmin    = "admin"
)

var roleLevels = map[string]int{
	RoleOperator: 1,
	RoleMentor:   2,
	RoleAdmin:    3,
}

func HasAtLeast(roles []string, required string) bool {
	requiredLevel := roleLevels[strings.ToLower(required)]
	if requiredLevel == 0 {
		return false
	}
	maxLevel := 0
	for _, role := range roles {
		level := roleLevels[strings.ToLower(strings.TrimSpace(role))]
		if level > maxLevel {
			maxLevel = level
		}
	}
	return maxLevel >= requiredLevel
}

// RequiredRoleForRequest maps a request to the minimum role. Setting the
// safety mode and minting override tokens are the privileged writes; every
// other operation is day-to-day operator work.
func RequiredRoleForRequest(r *http.Request) string {
	if r.Method == http.MethodPost {
		switch r.URL.Path {
		case "/safety/mode", "/safety/create-override":
			return RoleMentor
		}
	}
	return RoleOperator
}
