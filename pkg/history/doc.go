// Package history keeps recently seen message bodies in memory so edits and
// deletions can be reported with the text they replaced. Entries age out after
// a retention window; expiry is lazy and runs at most once per sweep interval.
package history
