// Package sharing implements selective disclosure of encrypted entries.
//
// ShareManager re-wraps an entry's data key to a recipient's public key and
// records the grant as a ShareToken with permissions and an expiry. At most
// one active token exists per (entry, recipient); creating a new share
// replaces the old token and revocation simply marks it revoked. The entry's
// ciphertext is never rewritten by share operations.
//
// AIShareManager covers the automated-analysis flow: a single-use AIGrant
// wrapped to the analysis service's key, and result submission where the
// result comes back sealed to the requesting user and is re-encrypted under
// the user's own keys before storage.
package sharing
