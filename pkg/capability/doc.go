// Package capability implements the surface adapter code runs against:
// page automation, scoped storage, notifications and small utilities.
//
// The page contract is implemented once, in Page, over the narrow Driver
// interface. Every backend (the fixture harness, an attached browser tab,
// a pooled Playwright runtime) supplies a Driver, so adapters behave the
// same whichever one they run under.
//
// All checks live here rather than in drivers:
//
//   - URLs are matched against the manifest's domains before a driver sees
//     them, and again after redirects.
//   - Each operation requires its permission from the granted set.
//   - Actions resolve their selector to exactly one element.
//   - Typed values lose their control characters.
package capability
