// Package discovery resolves a based environment to a WebSocket URL.
//
// Clients usually know the environment they want by name rather than by
// address: a cluster, an org, a project, an env and a service name. A
// Resolver turns that Query into the URL the transport dials.
//
// # HTTP Discovery (HTTPResolver)
//
// The cluster's discovery endpoint is asked for a host by path:
//
//	GET <cluster>/<org>.<project>.<env>.<name>[.<key>][$]
//
// The trailing "$" marks an optional key: the cluster may fall back to the
// env's default hub when no hub serves the key. The response body is the
// hub host, or a full ws:// or wss:// URL.
//
// # LAN Discovery (MDNSResolver)
//
// Hubs on a local network advertise the _based._tcp service over mDNS.
// TXT records identify what the instance serves:
//
//	org, project, env, name   env coordinates (required)
//	key                       hub key, when the hub serves one
//	path                      WebSocket path, default "/"
//	tls                       "1" when the hub expects wss
//
// The first instance matching the Query wins.
package discovery
