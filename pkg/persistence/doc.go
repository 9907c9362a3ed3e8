// Package persistence stores the client's cache between process runs.
//
// A snapshot holds the last reconciled value and checksum of each
// observable. After a restart the checksums let the first subscription
// to an observable ask the server to send data only if it changed.
package persistence
