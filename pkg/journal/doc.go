// Package journal appends human-readable message records to per-chat text
// files and keeps a separate error log.
package journal
