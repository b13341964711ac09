package database

import (
	"strings"

	"github.com/google/uuid"
)

const tagPrefix = "/* query_id: "

// NewQueryTag returns a fresh tag suitable for Execute and CancelQuery.
func NewQueryTag() string {
	return uuid.NewString()
}

// sanitizeTag keeps only characters that cannot terminate the comment or
// act as LIKE wildcards.
func sanitizeTag(tag string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return -1
	}, tag)
}

// TagMarker is the comment text a tagged statement starts with.
func TagMarker(tag string) string {
	return tagPrefix + sanitizeTag(tag) + " */"
}

// TagSQL prefixes sql with the query tag comment. An empty tag leaves sql
// unchanged.
func TagSQL(sql, tag string) string {
	if sanitizeTag(tag) == "" {
		return sql
	}
	return TagMarker(tag) + " " + sql
}

// TagPattern is the LIKE pattern matching any statement carrying tag.
func TagPattern(tag string) string {
	return "%" + TagMarker(tag) + "%"
}
