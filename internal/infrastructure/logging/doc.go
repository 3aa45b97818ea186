// Package logging builds the zap loggers shared by the server and CLI.
//
// Production mode writes JSON, development mode writes colored console
// lines. Subsystems take a *zap.Logger obtained through Component so log
// lines carry the subsystem name:
//
//	logger := logging.NewDefault()
//	reg := registry.New(registry.Deps{Logger: logger.Component("registry")})
package logging
