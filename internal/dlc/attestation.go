package dlc

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// attestationTag is the BIP-340 style tag for the oracle attestation
// challenge hash.
const attestationTag = "DLC/oracle/attestation/v0"

var errPointAtInfinity = errors.New("locking point is the point at infinity")

// taggedHash computes sha256(sha256(tag) || sha256(tag) || parts...).
func taggedHash(tag string, parts ...[]byte) [32]byte {
	tagHash := sha256.Sum256([]byte(tag))
	h := sha256.New()
	h.Write(tagHash[:])
	h.Write(tagHash[:])
	for _, part := range parts {
		h.Write(part)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NewNonce draws a fresh secret nonce scalar, normalized so its public point
// has an even Y coordinate.
func NewNonce() (*secp256k1.ModNScalar, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	k := new(secp256k1.ModNScalar)
	k.Set(&priv.Key)
	priv.Zero()
	return evenScalar(k), nil
}

// NonceFromBytes restores a nonce scalar from its 32-byte encoding.
func NonceFromBytes(b []byte) (*secp256k1.ModNScalar, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("nonce is %d bytes, want 32", len(b))
	}
	var buf [32]byte
	copy(buf[:], b)
	k := new(secp256k1.ModNScalar)
	if overflow := k.SetBytes(&buf); overflow != 0 {
		return nil, errors.New("nonce scalar overflows group order")
	}
	if k.IsZero() {
		return nil, errors.New("nonce scalar is zero")
	}
	return k, nil
}

// evenScalar negates k in place when k*G has an odd Y coordinate, so that the
// x-only challenge hash and the revealed scalar agree.
func evenScalar(k *secp256k1.ModNScalar) *secp256k1.ModNScalar {
	var p secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(k, &p)
	p.ToAffine()
	if p.Y.IsOdd() {
		k.Negate()
	}
	return k
}

// ScalarPoint returns the public point k*G.
func ScalarPoint(k *secp256k1.ModNScalar) *secp256k1.PublicKey {
	var p secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(k, &p)
	p.ToAffine()
	return secp256k1.NewPublicKey(&p.X, &p.Y)
}

// Zeroize clears a secret scalar.
func Zeroize(k *secp256k1.ModNScalar) {
	k.Zero()
}

func xOnly(pub *secp256k1.PublicKey) []byte {
	return pub.SerializeCompressed()[1:33]
}

// challenge computes e = H_tag(R.x || P.x || msg) as a scalar mod n.
func challenge(noncePoint, oraclePub *secp256k1.PublicKey, msg []byte) *secp256k1.ModNScalar {
	digest := taggedHash(attestationTag, xOnly(noncePoint), xOnly(oraclePub), msg)
	e := new(secp256k1.ModNScalar)
	e.SetBytes(&digest)
	return e
}

// evenJacobian loads a point normalized to the even-Y representative, the
// same convention the x-only challenge hash and the revealed scalar use.
func evenJacobian(pub *secp256k1.PublicKey, out *secp256k1.JacobianPoint) {
	pub.AsJacobian(out)
	if out.Y.IsOdd() {
		out.Y.Negate(1)
		out.Y.Normalize()
	}
}

// LockingPoint computes S = R + e*P, the adaptor point contract participants
// lock the payout branch for outcome msg against. Publication of the
// matching attestation scalar s (with s*G == S) completes that branch.
func LockingPoint(oraclePub, noncePoint *secp256k1.PublicKey, msg []byte) (*secp256k1.PublicKey, error) {
	e := challenge(noncePoint, oraclePub, msg)

	var r, p, ep, s secp256k1.JacobianPoint
	evenJacobian(noncePoint, &r)
	evenJacobian(oraclePub, &p)
	secp256k1.ScalarMultNonConst(e, &p, &ep)
	secp256k1.AddNonConst(&r, &ep, &s)
	if (s.X.IsZero() && s.Y.IsZero()) || s.Z.IsZero() {
		return nil, errPointAtInfinity
	}
	s.ToAffine()
	return secp256k1.NewPublicKey(&s.X, &s.Y), nil
}

// AttestationSecret reveals s = k + e*x for the outcome msg. The caller is
// responsible for zeroizing the nonce afterwards.
func AttestationSecret(priv *secp256k1.PrivateKey, nonce *secp256k1.ModNScalar, msg []byte) [32]byte {
	x := new(secp256k1.ModNScalar)
	x.Set(&priv.Key)
	if priv.PubKey().SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		x.Negate()
	}

	noncePoint := ScalarPoint(nonce)
	e := challenge(noncePoint, priv.PubKey(), msg)

	s := new(secp256k1.ModNScalar)
	s.Set(e)
	s.Mul(x)
	s.Add(nonce)

	out := s.Bytes()
	s.Zero()
	x.Zero()
	return out
}

// VerifyAttestation checks that s*G equals the locking point committed in
// the announcement for the published outcome.
func VerifyAttestation(lockingPoint *secp256k1.PublicKey, attestation []byte) bool {
	if len(attestation) != 32 {
		return false
	}
	var buf [32]byte
	copy(buf[:], attestation)
	s := new(secp256k1.ModNScalar)
	if overflow := s.SetBytes(&buf); overflow != 0 {
		return false
	}
	revealed := ScalarPoint(s)
	return revealed.IsEqual(lockingPoint)
}
