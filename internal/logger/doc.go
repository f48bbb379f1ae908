// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a sane console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities,
//   - leveled convenience functions (Info, InfoKV, etc.).
//
// Both daemons accept a context and extract the logger from it, enabling
// scoped, structured logging throughout the codebase.
package logger
