// Package auth issues and validates bearer access tokens.
//
// Tokens are HS256 JWTs carrying the user ID, optional email and name, and an
// is_admin flag that gates the permission administration endpoints:
//
//	tm, err := auth.NewTokenManager(secret, "pms", time.Hour)
//	token, err := tm.GenerateToken(&auth.User{ID: "u1", IsAdmin: true})
//	claims, err := tm.ValidateToken(token)
//	authCtx := auth.ContextFromClaims(claims)
//
// Project roles are not carried in the token. They are looked up per request
// by the permissions package so that membership changes take effect at once.
package auth
