// Package crypto implements the cryptographic operations the verification
// core leans on as a well-understood external collaborator, wired directly
// against the quote package's own wire types rather than generic byte
// slices: verifying a QE report's signature and a quote's own signature,
// both raw P-256 ECDSA over SHA-256 with no ASN.1 framing, and parsing the
// PEM-encoded PCK certificate chain a QE report carries.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	"github.com/tdxverify/dcap/quote"
)

// VerifyQEReportSignature verifies that qe.Signature is a valid ECDSA
// signature, by pckCert, over qe.EnclaveReport's marshaled bytes. This is
// the check that binds the QE report to the PCK certificate embedded
// alongside it.
func VerifyQEReportSignature(pckCert *x509.Certificate, qe quote.QEReportCertificationData) error {
	return verifyRawECDSASignature(pckCert.PublicKey, qe.EnclaveReport.Marshal(), qe.Signature[:])
}

// VerifyQuoteSignature verifies that auth.Signature is a valid ECDSA
// signature, by the P-256 key carried in auth.AttestationPublicKey, over
// signedRegion (a quote's header and body, concatenated).
func VerifyQuoteSignature(auth quote.AuthData, signedRegion []byte) error {
	key := buildECDSAPublicKey(auth.AttestationPublicKey)
	return verifyRawECDSASignature(key, signedRegion, auth.Signature[:])
}

// buildECDSAPublicKey builds a P-256 ECDSA public key from its raw 64-byte
// X||Y representation, as carried in a quote's AuthData.AttestationPublicKey.
func buildECDSAPublicKey(rawPublicKey [64]byte) *ecdsa.PublicKey {
	key := new(ecdsa.PublicKey)
	key.Curve = elliptic.P256()
	key.X = new(big.Int).SetBytes(rawPublicKey[:32])
	key.Y = new(big.Int).SetBytes(rawPublicKey[32:64])
	return key
}

// verifyRawECDSASignature verifies a raw 64-byte r||s ECDSA signature over
// data's SHA-256 digest, using publicKey.
func verifyRawECDSASignature(publicKey any, data, signature []byte) error {
	signingKey, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return errors.New("signing key is not an ECDSA key")
	}
	if len(signature) != 64 {
		return fmt.Errorf("invalid ECDSA signature: expected 64 bytes but got %d bytes", len(signature))
	}
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:64])

	digest := sha256.Sum256(data)
	if !ecdsa.Verify(signingKey, digest[:], r, s) {
		return errors.New("failed to verify signature using ECDSA public key")
	}
	return nil
}

// ParsePCKCertChain parses the PEM-encoded PCK certificate chain embedded
// in qe's certification data, in order.
func ParsePCKCertChain(qe quote.QEReportCertificationData) ([]*x509.Certificate, error) {
	certChainPEM, err := qe.PCKCertChainPEM()
	if err != nil {
		return nil, fmt.Errorf("reading PCK certificate chain: %w", err)
	}
	var chain []*x509.Certificate
	for block, rest := pem.Decode(certChainPEM); block != nil; block, rest = pem.Decode(rest) {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate from PEM: %w", err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}
