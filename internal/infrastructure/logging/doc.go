// Package logging provides structured logging for Tasklane Core.
//
// It wraps log/slog with the service's default fields (service, version),
// JSON or text output, level filtering from config, and a ReplaceAttr hook
// that blanks attributes keyed as secrets (password, token, authorization
// and similar).
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Credential and authorisation events go through Logger.Security, which
// tags entries with component=security:
//
//	logger.Security().Warn("login failed", "user_id", id)
package logging
