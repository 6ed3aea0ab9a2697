// Package logger wraps zap with a process-wide console logger whose level can be
// changed at runtime, and with helpers that carry scoped loggers in a context.
//
// Adapters, engines and transports never hold a logger of their own. They take a
// context and log through it, so every line written while handling a device
// carries its protocol name and device id.
package logger
