// Package logger builds the *slog.Logger shared by every engagekit component.
//
// New applies a list of Option values on top of production-safe defaults
// (JSON output, INFO level) and wraps the selected handler with a decorator
// that pulls attributes such as the current session id out of the context.
//
//	log := logger.New(
//	    logger.WithFormat(logger.FormatText),
//	    logger.WithLevel(slog.LevelDebug),
//	    logger.WithAttr(logger.Component("sdk")),
//	)
//	log.InfoContext(logger.WithSessionID(ctx, id), "event queued", logger.TaskType("EVENT"))
//
// Attribute helpers in attr.go keep key names consistent between the queue,
// dispatcher, session manager and collector client. Helpers that take an
// optional value return an empty slog.Attr, which slog drops, so call sites
// do not need nil checks.
package logger
