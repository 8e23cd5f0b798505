package identity

import (
	"strings"
)

var filterEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// quote renders value as a SCIM string literal.
func quote(value string) string {
	return `"` + filterEscaper.Replace(value) + `"`
}

// eq builds an equality comparison of attribute against value.
func eq(attribute, value string) string {
	return attribute + " eq " + quote(value)
}

// anyIDFilter matches any of the given ids: id eq "a" or id eq "b".
func anyIDFilter(ids []string) string {
	terms := make([]string, len(ids))
	for i, id := range ids {
		terms[i] = eq("id", id)
	}
	return strings.Join(terms, " or ")
}

// usernameFilter matches username exactly, scoped to origin when it is set.
func usernameFilter(username, origin string) string {
	filter := eq("username", username)
	if origin != "" {
		filter = eq("origin", origin) + " and " + filter
	}
	return filter
}
