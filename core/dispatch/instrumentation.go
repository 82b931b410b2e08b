package dispatch

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-dialog/core/dispatch"

var logger = otelslog.NewLogger(scopeName)
