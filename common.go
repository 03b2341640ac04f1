package selenium

import (
	"fmt"

	"github.com/golang/glog"
)

var debugFlag = false

// SetDebug forces the wire trace of every command to the log, independent of
// the glog verbosity.
func SetDebug(debug bool) {
	debugFlag = debug
}

func debugLog(format string, args ...interface{}) {
	if !debugFlag && !bool(glog.V(2)) {
		return
	}
	glog.InfoDepth(1, fmt.Sprintf(format, args...))
}
