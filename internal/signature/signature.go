// Package signature defines the provider contract every signing backend
// implements, the byte-validated key and signature value types it exchanges,
// and the error taxonomy shared by providers and key stores.
//
// Algorithm and signature encoding are fixed by the concrete type a caller
// instantiates, never by a runtime flag: an Ed25519 signer produces
// Ed25519Signature values, a P-256 ASN.1 signer produces
// Asn1Signature[NistP256] values, and the matching verifiers accept nothing
// else.
package signature

// PublicKeyed is implemented by anything that can report the public half of
// the key it is bound to.
type PublicKeyed[K any] interface {
	PublicKey() (K, error)
}

// Signer binds exactly one key to signing. Implementations never expose the
// private key material.
type Signer[K, S any] interface {
	PublicKeyed[K]
	Sign(msg []byte) (S, error)
}

// Verifier checks signatures of type S under public keys of type K. Any
// mismatch yields ErrSignatureInvalid without saying which part failed.
type Verifier[K, S any] interface {
	Verify(key K, msg []byte, sig S) error
}
