// Package client is the portal's HTTP client for the identity and permission
// API served by package api.
//
// A Client satisfies both session.IdentityService and permission.Lookup, so a
// single value backs the session store and the permission oracle of every
// application instance:
//
//	c := client.New("http://127.0.0.1:8080/api")
//	store := session.NewStore(repo, c)
//	oracle := permission.NewOracle(c, store)
//
// Every 401 answer is a *StatusError that matches session.ErrTokenInvalid, so
// the oracle's auth-failure hook can expire the session.
package client
