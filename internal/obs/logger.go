// Package obs is the leveled logging sink the reactor core consumes. It
// wraps github.com/golang/glog, matching the TRACE/DEBUG/INFO/WARN/ERROR/
// FATAL taxonomy of the original Logger/LogLevel pair: TRACE and DEBUG are
// verbosity-gated glog.V(n) calls, INFO/WARN/ERROR map onto glog's own
// levels, and FATAL terminates the process after a flush.
package obs

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/golang/glog"
)

// Verbosity thresholds for the two sub-INFO levels. TRACE is noisier than
// DEBUG, so it requires a higher -v setting to show up.
const (
	debugVerbosity glog.Level = 1
	traceVerbosity glog.Level = 2
)

// Trace logs at the most verbose level; only visible with -v=2 or higher.
func Trace(args ...any) {
	if glog.V(traceVerbosity) {
		glog.InfoDepth(1, args...)
	}
}

// Tracef is the formatted form of Trace.
func Tracef(format string, args ...any) {
	if glog.V(traceVerbosity) {
		glog.InfoDepth(1, fmt.Sprintf(format, args...))
	}
}

// Debug logs at -v=1 or higher.
func Debug(args ...any) {
	if glog.V(debugVerbosity) {
		glog.InfoDepth(1, args...)
	}
}

// Debugf is the formatted form of Debug.
func Debugf(format string, args ...any) {
	if glog.V(debugVerbosity) {
		glog.InfoDepth(1, fmt.Sprintf(format, args...))
	}
}

// Info logs unconditionally at INFO.
func Info(args ...any) { glog.InfoDepth(1, args...) }

// Infof is the formatted form of Info.
func Infof(format string, args ...any) { glog.InfoDepth(1, fmt.Sprintf(format, args...)) }

// Warn logs at WARN.
func Warn(args ...any) { glog.WarningDepth(1, args...) }

// Warnf is the formatted form of Warn.
func Warnf(format string, args ...any) { glog.WarningDepth(1, fmt.Sprintf(format, args...)) }

// Error logs at ERROR; the caller continues.
func Error(args ...any) { glog.ErrorDepth(1, args...) }

// Errorf is the formatted form of Error.
func Errorf(format string, args ...any) { glog.ErrorDepth(1, fmt.Sprintf(format, args...)) }

// Fatal logs at FATAL and terminates the process, matching LOG_FATAL.
func Fatal(args ...any) { glog.FatalDepth(1, args...) }

// Fatalf is the formatted form of Fatal.
func Fatalf(format string, args ...any) { glog.FatalDepth(1, fmt.Sprintf(format, args...)) }

// SysError logs a syscall/errno failure at ERROR, matching LOG_SYSERROR.
func SysError(what string, err error) {
	glog.ErrorDepth(1, fmt.Sprintf("%s: %v", what, err))
}

// SysFatal logs a syscall/errno failure at FATAL and terminates the
// process, matching LOG_SYSFATAL. Used for the "fatal / programmer error"
// bucket in §7 where a syscall fails: bind, listen, epoll_ctl, and creating
// a socket, epoll instance, eventfd, timerfd or reserved idle descriptor.
func SysFatal(what string, err error) {
	glog.FatalDepth(1, fmt.Sprintf("%s: %v", what, err))
}

// SetVerbosity adjusts glog's -v equivalent at runtime, raising or lowering
// trace noise without a restart.
func SetVerbosity(v int) {
	if f := flag.Lookup("v"); f != nil {
		_ = f.Value.Set(strconv.Itoa(v))
	}
}
