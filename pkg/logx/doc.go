// Package logx configures castbot's structured logging.
//
// Logger is a small value type over zerolog:
//   - console output is short and readable (time, level, caller)
//   - file output is JSON
//   - Service.Apply swaps sinks and level at runtime on config reload
package logx
