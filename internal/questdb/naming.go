// Package questdb adapts QuestDB to the collection model: ILP line senders for
// writes and PG-wire SQL for provisioning, directory lookups and range queries.
package questdb

import (
	"errors"
	"strings"
)

// ErrInvalidCollection is returned when a collection name normalizes to nothing.
var ErrInvalidCollection = errors.New("invalid collection name")

// NormalizeTableName maps a user supplied collection name to its physical
// table: lowercase, every rune outside [a-z0-9_] becomes '_', and leading or
// trailing underscores are trimmed.
func NormalizeTableName(name string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	table := strings.Trim(b.String(), "_")
	if table == "" {
		return "", ErrInvalidCollection
	}
	return table, nil
}

// reservedPrefixes are QuestDB-internal tables that never show up as collections.
var reservedPrefixes = []string{"telemetry", "sys.", "_"}

func isReserved(table string) bool {
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(table, p) {
			return true
		}
	}
	return false
}

func quoteIdent(table string) string {
	return `"` + strings.ReplaceAll(table, `"`, `""`) + `"`
}
