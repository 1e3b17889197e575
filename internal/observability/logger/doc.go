// Package logger provides a singleton Zap logger with context-based scoping.
//
// The broker logs every auth decision through this package. Middlewares
// inject a request-scoped logger (request_id, method, path) into the
// context; controllers and services pull it back out with From(ctx) and
// add their own layer/op fields.
//
// Initialization (once, in main):
//
//	logger.Init(logger.Config{
//	    Env:   cfg.App.Env,   // "dev" or "prod"
//	    Level: cfg.App.LogLevel,
//	})
//	defer logger.Sync()
//
// In controllers/services:
//
//	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("Coordinator.Complete"))
//	log.Info("authorization completed", logger.ClientID(clientID))
package logger
