// Package manifest loads adapter manifests and tool catalogs.
//
// An adapter bundle is a directory holding an adapter.yaml manifest and a
// tools.yaml catalog:
//
//	adapter.yaml   id, domains, permissions, trust, runtime, entrypoint
//	tools.yaml     tool definitions with input schemas and optional
//	               declarative recipes
//
// # Domains
//
// Each domain entry is a host with an optional path prefix, for example
// "benefits.example.gov" or "example.gov/apply". Matching compares hosts
// case-insensitively, ignores ports, and requires the path prefix to match
// whole segments. A leading "*." matches subdomains only.
//
// # Names
//
// Adapter ids are lowercase segments joined by '.' or '-' and never contain
// '_'. Tool names are snake_case without "__". Together these guarantee that
// "<adapter-id>__<tool>" splits back into exactly one pair.
package manifest
