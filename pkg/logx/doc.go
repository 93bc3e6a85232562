// Package logx is the structured logging layer of the delivery bot.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured
//   - an optional ops chat sink (min-level + rate limiting)
package logx
