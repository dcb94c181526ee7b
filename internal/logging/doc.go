// Package logging wraps Zap with context-aware methods.
//
// Session and request identifiers stored on the context are appended to
// every entry:
//
//	ctx = logging.WithSessionID(ctx, sess.ID)
//	logger.Info(ctx, "turn completed", zap.Int("turn", n))
//
// produces
//
//	{"ts":"2026-01-02T15:04:05.000Z","level":"info","msg":"turn completed","session.id":"…","turn":3}
package logging
