// Package httpserver exposes the encryption engine to the application layer
// over HTTP. The server never sees plaintext beyond request scope: entries
// arrive, are sealed, and only ciphertext records reach storage.
//
// The API surface maps the engine's error taxonomy onto HTTP status codes:
// locked or not-set-up sessions are 409 Conflict, dead shares and grants are
// 410 Gone, identity and permission failures are 403 Forbidden, and
// decryption failures are 422 Unprocessable Entity. Liveness, readiness and
// drain endpoints follow the usual load-balancer contract.
package httpserver
