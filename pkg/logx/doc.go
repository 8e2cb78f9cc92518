// Package logx configures studynotify's structured logging.
//
// The service code logs through a small wrapper (logx.Logger) on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured, one event per line
//   - Level and sinks can be swapped at runtime through Service.Apply
//
// Webhook URLs carry secrets; callers redact them before passing them as fields.
package logx
