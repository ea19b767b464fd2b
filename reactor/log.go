package reactor

import "github.com/vczn/asuka/internal/obs"

// Thin forwarders so the rest of the package can log without importing
// internal/obs everywhere; kept in one file to match the original's single
// logger.hpp include.
func obsTrace(args ...any)                    { obs.Trace(args...) }
func obsTracef(format string, args ...any)    { obs.Tracef(format, args...) }
func obsDebug(args ...any)                    { obs.Debug(args...) }
func obsDebugf(format string, args ...any)    { obs.Debugf(format, args...) }
func obsInfo(args ...any)                     { obs.Info(args...) }
func obsInfof(format string, args ...any)     { obs.Infof(format, args...) }
func obsWarn(args ...any)                     { obs.Warn(args...) }
func obsWarnf(format string, args ...any)     { obs.Warnf(format, args...) }
func obsError(args ...any)                    { obs.Error(args...) }
func obsErrorf(format string, args ...any)    { obs.Errorf(format, args...) }
func obsSysError(what string, err error)      { obs.SysError(what, err) }
func obsSysFatal(what string, err error)      { obs.SysFatal(what, err) }
