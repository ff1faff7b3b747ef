package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Service resolves actor ids to role and display data for
// authorization checks and audit display.
type Service interface {
	Resolve(ctx context.Context, id snowflake.ID) (User, error)
}
