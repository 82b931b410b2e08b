package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/koscakluka/ema-dialog/core"

var (
	tracer = otel.Tracer(scopeName)

	logger = otelslog.NewLogger(scopeName)
)
