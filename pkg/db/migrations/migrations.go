// Package migrations contains the conversation store migrations.
// Migrations use Rails-style timestamp versioning (YYYYMMDDHHmmss).
package migrations

import (
	"github.com/tabletalk-dev/tabletalk/pkg/db"
)

// All returns all registered migrations in the correct order.
// New migrations should be added to this list.
func All() []db.Migration {
	return []db.Migration{
		Migration20260301090000CreateChatInstances(),
		Migration20260301090001AddDatasetToChatInstances(),
	}
}
