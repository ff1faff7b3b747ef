package protocol

import (
	"github.com/smallbiznis/lingora/internal/protocol/consolidation"
	"github.com/smallbiznis/lingora/internal/protocol/generator"
	"github.com/smallbiznis/lingora/internal/protocol/timeline"
	"github.com/smallbiznis/lingora/internal/protocol/workflow"
	"go.uber.org/fx"
)

// Module wires the protocol services.
var Module = fx.Module("protocol",
	fx.Provide(
		generator.NewService,
		workflow.NewService,
		timeline.NewService,
		consolidation.NewService,
	),
)
