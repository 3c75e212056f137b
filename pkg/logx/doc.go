// Package logx is the daemon's logging layer: a small value-type Logger over
// zerolog, plus a Service that owns the outputs and can swap them when the
// config file is reloaded.
//
// Console output is human-readable; the log file gets JSON lines. Components
// tag themselves with With(logx.String("comp", ...)).
package logx
