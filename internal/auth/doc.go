// Package auth provides authentication for the portal's identity API.
//
// # Authentication Methods
//
//   - Passwords: users log in with username and password. Hashes are bcrypt
//     and stored in the user store.
//
//   - JWT Tokens: a successful login returns an HS256 token signed with the
//     configured jwt_secret. The "sub" claim carries the user ID.
//
// # HTTP Middleware
//
// HTTPAuthMiddleware validates the bearer token, loads the user and their
// roles, and attaches an AuthContext to the request context. Any failure
// answers 401 so that browser-side session stores can expire the session.
//
// # Security Considerations
//
//   - Secrets shorter than MinSecretLength are rejected.
//   - Tokens must carry an expiry and the bizhub issuer.
//   - Unknown usernames spend a bcrypt comparison like wrong passwords do.
package auth
