package main

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-dialog/cmd/npcdialog"

var logger = otelslog.NewLogger(scopeName)
