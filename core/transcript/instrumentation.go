package transcript

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-dialog/core/transcript"

var logger = otelslog.NewLogger(scopeName)
