package deskflow

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// GenerateID returns a time-sortable id with the given prefix, e.g.
// "exec-01J9Z...". Sortable ids keep execution listings in start order.
func GenerateID(prefix string) string {
	return prefix + "-" + strings.ToLower(ulid.Make().String())
}
