// Package store provides persistent storage for the portal using SQLite.
//
// # Architecture
//
// The store package splits persistence into small interfaces:
//
//   - UserStore: portal logins with bcrypt password hashes
//   - RoleStore: role assignments per user
//   - GrantStore: feature grants per role
//   - SlotStore: durable session token slots, one per application instance
//
// SQLiteStore implements all of them in a single struct. MockStore is an
// in-memory implementation with the same semantics for tests.
//
// # Feature Codes
//
// Feature codes are dotted lowercase identifiers such as "myarea.suppliers"
// or "admin.users". A grant may name an exact code, a prefix pattern
// ending in ".*", or "*" for every feature.
//
// # Session Slots
//
// A slot stores at most one token plus a logged-out sentinel. PutSlotToken
// clears the sentinel; SetSlotLoggedOut leaves the token untouched, so
// logout callers clear the token first.
//
// # Database Configuration
//
// SQLite is configured with WAL journaling and foreign keys. The path
// ":memory:" opens a private in-memory database limited to one connection.
package store
