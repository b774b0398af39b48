package transport

import "github.com/sirupsen/logrus"

// debug logs low-level per-packet/per-frame tracing. It is deliberately
// cheap to call even when disabled: logrus checks its level before
// formatting arguments.
func debug(args ...interface{}) {
	logrus.Debug(args...)
}
