// Package logging provides opt-in file-based logging with rotation for CodeIndex.
// When debug-level logging is configured, comprehensive logs are written to
// ~/.codeindex/logs/ for troubleshooting; callers that don't need that can
// stick with DefaultConfig, which writes to stderr only.
package logging
