// Package infrastructure provides reusable infrastructure components for Go applications.
package infrastructure

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// FxLoggerAdapter routes Fx container events and printer output through zap
// with structured fields.
type FxLoggerAdapter struct {
	logger *zap.Logger
}

// NewFxLoggerAdapter returns an fxevent.Logger backed by logger.
func NewFxLoggerAdapter(logger *zap.Logger) fxevent.Logger {
	return &FxLoggerAdapter{logger: logger.Named("fx")}
}

// NewFxPrinter returns an fx.Printer backed by logger.
func NewFxPrinter(logger *zap.Logger) fx.Printer {
	return &FxLoggerAdapter{logger: logger.Named("fx")}
}

// LogEvent implements fxevent.Logger.
func (p *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		p.logger.Debug("OnStart hook executing", zap.String("callee", e.FunctionName), zap.String("caller", e.CallerName))
	case *fxevent.OnStartExecuted:
		p.hookResult("OnStart", e.FunctionName, e.CallerName, e.Runtime.String(), e.Err)
	case *fxevent.OnStopExecuting:
		p.logger.Debug("OnStop hook executing", zap.String("callee", e.FunctionName), zap.String("caller", e.CallerName))
	case *fxevent.OnStopExecuted:
		p.hookResult("OnStop", e.FunctionName, e.CallerName, e.Runtime.String(), e.Err)
	case *fxevent.Supplied:
		p.withError("supplied", e.Err, zap.String("type", e.TypeName), zap.String("module", e.ModuleName))
	case *fxevent.Provided:
		p.withError("provided", e.Err, zap.Strings("types", e.OutputTypeNames), zap.String("constructor", e.ConstructorName), zap.String("module", e.ModuleName))
	case *fxevent.Invoking:
		p.logger.Debug("invoking", zap.String("function", e.FunctionName), zap.String("module", e.ModuleName))
	case *fxevent.Invoked:
		p.withError("invoked", e.Err, zap.String("function", e.FunctionName), zap.String("module", e.ModuleName))
	case *fxevent.Stopping:
		p.logger.Info("received signal", zap.String("signal", e.Signal.String()))
	case *fxevent.Stopped:
		p.withError("stopped", e.Err)
	case *fxevent.RollingBack:
		p.logger.Error("start failed, rolling back", zap.Error(e.StartErr))
	case *fxevent.RolledBack:
		p.withError("rolled back", e.Err)
	case *fxevent.Started:
		p.withError("started", e.Err)
	case *fxevent.LoggerInitialized:
		p.withError("initialized custom fxevent.Logger", e.Err, zap.String("constructor", e.ConstructorName))
	default:
		p.logger.Debug("unhandled fx event", zap.String("type", fmt.Sprintf("%T", event)))
	}
}

// Printf implements fx.Printer.
func (p *FxLoggerAdapter) Printf(format string, args ...any) {
	p.logger.Sugar().Infof(format, args...)
}

func (p *FxLoggerAdapter) hookResult(hook, callee, caller, runtime string, err error) {
	if err != nil {
		p.logger.Error(hook+" hook failed", zap.String("callee", callee), zap.String("caller", caller), zap.Error(err))

		return
	}
	p.logger.Debug(hook+" hook executed", zap.String("callee", callee), zap.String("caller", caller), zap.String("runtime", runtime))
}

// withError logs msg at error level when err is set and at debug otherwise;
// lifecycle milestones (started/stopped) are logged at info.
func (p *FxLoggerAdapter) withError(msg string, err error, fields ...zap.Field) {
	if err != nil {
		p.logger.Error(msg+" with error", append(fields, zap.Error(err))...)

		return
	}
	switch msg {
	case "started", "stopped":
		p.logger.Info(msg, fields...)
	default:
		p.logger.Debug(msg, fields...)
	}
}
