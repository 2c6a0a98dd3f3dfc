package db

import "strings"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes the LIKE wildcards in s so it matches literally under
// the default backslash escape character.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// LikeContains is a LIKE/ILIKE pattern matching s anywhere in the column.
func LikeContains(s string) string {
	return "%" + EscapeLike(s) + "%"
}
