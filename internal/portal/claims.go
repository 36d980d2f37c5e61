package portal

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// claimKeys are the identity token claims that may carry roles, in the
// order they are consulted. Claim names match case-insensitively.
var claimKeys = []string{"roles", "role", "extension_roles", "extension_role"}

// RoleSynonyms maps each portal role to the claim values that select it.
var RoleSynonyms = map[Role][]string{
	RoleAnonymous: {"anonymous", "guest", "public"},
	RoleParents:   {"parent", "parents", "guardian", "guardians", "family"},
	RoleStudents:  {"student", "students", "learner", "learners"},
	RoleStaff:     {"staff", "teacher", "teachers", "faculty", "employee", "employees"},
}

// RolesFromClaims returns the raw role values of an identity token. The
// first claim key present with a usable value wins: a list is taken item
// by item, a string is split on commas.
func RolesFromClaims(claims map[string]any) []string {
	if len(claims) == 0 {
		return nil
	}
	names := make([]string, 0, len(claims))
	for k := range claims {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, candidate := range claimKeys {
		i := slices.IndexFunc(names, func(k string) bool { return strings.ToLower(k) == candidate })
		if i < 0 {
			continue
		}
		switch v := claims[names[i]].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				out = append(out, fmt.Sprint(item))
			}
			return out
		case []string:
			return slices.Clone(v)
		case string:
			if v == "" {
				continue
			}
			var out []string
			for _, part := range strings.Split(v, ",") {
				if p := strings.TrimSpace(part); p != "" {
					out = append(out, p)
				}
			}
			return out
		}
	}
	return nil
}

// RoleFromClaims picks the portal role for an identity token. Roles are
// tried in display order, so a token carrying both "guest" and "teacher"
// maps to anonymous. Tokens with no recognizable role map to anonymous.
func RoleFromClaims(claims map[string]any) Role {
	values := RolesFromClaims(claims)
	for i, v := range values {
		values[i] = strings.ToLower(strings.TrimSpace(v))
	}
	for _, role := range Roles {
		for _, v := range values {
			if slices.Contains(RoleSynonyms[role], v) {
				return role
			}
		}
	}
	return RoleAnonymous
}
