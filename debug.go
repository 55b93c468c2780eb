package coap

import (
	"github.com/astaxie/beego/logs"
)

var debugEnable bool

// GLog is the package-wide logger used by the endpoint event loop and
// codec error paths.
var GLog *logs.BeeLogger

func init() {
	debugEnable = false
	GLog = logs.NewLogger(10000)
	GLog.SetLogger("console", `{"level":7}`)
	GLog.EnableFuncCallDepth(true)
	GLog.SetLogFuncCallDepth(3)
}

// Debug enables verbose per-packet logging.
func Debug(enable bool) {
	debugEnable = enable
}

// SetLogger replaces the package logger, e.g. to redirect to a file
// logger configured by the embedding application.
func SetLogger(l *logs.BeeLogger) {
	if l != nil {
		GLog = l
	}
}
