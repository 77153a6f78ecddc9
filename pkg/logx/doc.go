// Package logx is punchclock's structured logger, a thin layer over zerolog.
//
// Console lines are human formatted (or raw JSON under journald), the optional
// log file is always JSON, and a Service can swap level and sinks when the
// config is reloaded without invalidating Loggers already handed out.
package logx
