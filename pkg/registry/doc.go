// Package registry tracks observables, their subscribers and in-flight
// requests for a single client session.
//
// # Observables and subscriptions
//
// An observable is keyed by its obs-id and exists while at least one
// observe subscription or pending getter refers to it. Observe
// subscriptions persist until removed; getters are resolved once and then
// removed. Sub-ids are unique for the lifetime of the process.
//
// # Requests
//
// Function calls and auth requests share one 24-bit request id space. Ids
// are reused once their request resolves. Only one auth request is in
// flight at a time; a new one supersedes the old without invoking it.
package registry
