// Package ir provides the typed value representation shared by every lofi
// layer: record column values, query literals, and canonical JSON.
//
// ir imports nothing internal. All other internal packages import ir.
//
// Key design constraints:
//   - Value is sealed: Null, String, Number, Bool, Date are the only kinds
//   - Dates are milliseconds since the Unix epoch (UTC), matching storage
//   - Canonical JSON (RFC 8785 key order, NFC strings, no HTML escaping)
//     is the only serialization used for hashing and persisted metadata
package ir
