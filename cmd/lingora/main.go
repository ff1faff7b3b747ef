package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lingora/internal/audit"
	"github.com/smallbiznis/lingora/internal/clock"
	"github.com/smallbiznis/lingora/internal/config"
	"github.com/smallbiznis/lingora/internal/identity"
	"github.com/smallbiznis/lingora/internal/ledger"
	"github.com/smallbiznis/lingora/internal/logger"
	"github.com/smallbiznis/lingora/internal/migration"
	"github.com/smallbiznis/lingora/internal/notifier"
	"github.com/smallbiznis/lingora/internal/observability/metrics"
	"github.com/smallbiznis/lingora/internal/protocol"
	"github.com/smallbiznis/lingora/internal/server"
	"github.com/smallbiznis/lingora/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		metrics.Module,

		// Functional domains
		identity.Module,
		ledger.Module,
		audit.Module,
		notifier.Module,
		protocol.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
