package memberid

import (
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Claims represents the identity claims extracted from a verified upstream token.
type Claims struct {
	Subject           string
	GivenName         string
	PreferredUsername string
	Groups            []string

	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// HasGroup reports whether the claims list the given group.
func (c *Claims) HasGroup(group string) bool {
	if c == nil {
		return false
	}
	for _, g := range c.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// CapitalizeGroups upper-cases the first rune of every group name for display.
func CapitalizeGroups(groups []string) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		r, size := utf8.DecodeRuneInString(g)
		if size == 0 {
			out = append(out, g)
			continue
		}
		out = append(out, string(unicode.ToUpper(r))+g[size:])
	}
	return out
}

// GroupsLabel joins capitalized groups, collapsing anything past limit into "+N".
func GroupsLabel(groups []string, limit int) string {
	capped := CapitalizeGroups(groups)
	if limit <= 0 || len(capped) <= limit {
		return strings.Join(capped, ", ")
	}
	return strings.Join(capped[:limit], ", ") + " +" + strconv.Itoa(len(capped)-limit)
}
