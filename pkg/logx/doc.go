// Package logx configures mangawatch's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller, colour only on a TTY)
//   - File output JSON-structured
//   - Optional chat sink (min-level + rate limiting) for operator alerts
package logx
