// Package auth verifies bearer tokens for the bridge API.
//
// Tokens are HS256 JWTs carrying a subject and a role. Roles map statically
// to permissions:
//
//	viewer    ariston:read, ariston:history
//	operator  viewer + ariston:write
//	admin     operator + ariston:admin
//
// There are no stored accounts; tokens are minted offline with the shared
// secret (see the -mint-token flag of cmd/aristonbridge).
package auth
