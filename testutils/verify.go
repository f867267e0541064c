// Package testutils contains helpers shared by package tests.
package testutils

import (
	"go.uber.org/goleak"
)

// VerifyTestMain runs the package tests and fails the run if goroutines outlive them. The
// lumberjack mill goroutine of a rotated log file is ignored since it only exits with the process.
func VerifyTestMain(m goleak.TestingM, opts ...goleak.Option) {
	opts = append(opts, goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"))
	goleak.VerifyTestMain(m, opts...)
}
