// Package signers turns parsed documents into signed ones. A SigningSession
// drives the byte-range workflow (reserve, digest, embed) over an
// incremental update, and Signer implementations supply the detached CMS
// material from an in-memory key, an external service or a PKCS#11 token.
package signers

import (
	"crypto"
	"crypto/x509"
	"errors"

	"github.com/pdforge/pdforge/sign/cms"
)

var ErrSignerRequired = errors.New("signer is required")

// signatureBaseSize covers the fixed CMS overhead: SignedData framing,
// signed attributes and the encrypted digest for keys up to RSA-4096.
const signatureBaseSize = 8192

// Signer produces detached CMS signatures for a signing session.
type Signer interface {
	// Sign returns the DER-encoded CMS SignedData covering data.
	Sign(data []byte) ([]byte, error)
	// GetCertificate returns the signing certificate.
	GetCertificate() *x509.Certificate
	// GetCertificateChain returns the intermediates embedded alongside it.
	GetCertificateChain() []*x509.Certificate
	// EstimateSize returns an upper bound on the encoded signature size,
	// used to reserve the /Contents gap.
	EstimateSize() int
}

// SimpleSigner signs with an in-memory private key. RSA keys sign with
// PKCS#1 v1.5, ECDSA keys with the ASN.1 form, both over SHA-256.
type SimpleSigner struct {
	Certificate *x509.Certificate
	CertChain   []*x509.Certificate
	PrivateKey  crypto.Signer
	Algorithm   cms.SignatureAlgorithm

	revocationCRLs  [][]byte
	revocationOCSPs [][]byte
}

// NewSimpleSigner builds a SimpleSigner, deriving the signature algorithm
// from the key type.
func NewSimpleSigner(cert *x509.Certificate, key crypto.Signer) (*SimpleSigner, error) {
	alg, err := cms.AlgorithmFor(key)
	if err != nil {
		return nil, err
	}
	return &SimpleSigner{
		Certificate: cert,
		PrivateKey:  key,
		Algorithm:   alg,
	}, nil
}

// SetCertificateChain sets the intermediate certificates embedded in the
// CMS structure after the signing certificate.
func (s *SimpleSigner) SetCertificateChain(chain []*x509.Certificate) {
	s.CertChain = chain
}

// SetRevocationInfo archives DER CRLs and OCSP responses inside the signed
// attributes so verifiers can check revocation offline.
func (s *SimpleSigner) SetRevocationInfo(crls, ocsps [][]byte) {
	s.revocationCRLs = crls
	s.revocationOCSPs = ocsps
}

// Sign implements Signer.
func (s *SimpleSigner) Sign(data []byte) ([]byte, error) {
	builder := cms.NewBuilder(s.Certificate, s.PrivateKey, s.Algorithm)
	builder.SetCertificateChain(s.CertChain)
	builder.SetRevocationInfo(s.revocationCRLs, s.revocationOCSPs)
	return builder.Sign(data)
}

// GetCertificate implements Signer.
func (s *SimpleSigner) GetCertificate() *x509.Certificate {
	return s.Certificate
}

// GetCertificateChain implements Signer.
func (s *SimpleSigner) GetCertificateChain() []*x509.Certificate {
	return s.CertChain
}

// EstimateSize implements Signer.
func (s *SimpleSigner) EstimateSize() int {
	extra := 0
	for _, der := range s.revocationCRLs {
		extra += len(der)
	}
	for _, der := range s.revocationOCSPs {
		extra += len(der)
	}
	return estimateSignatureSize(s.Certificate, s.CertChain) + roundKiB(extra)
}

// ExternalSigner delegates the raw signature over the signed attributes to
// SignFunc (a remote service or custom hardware) and assembles the CMS
// structure locally.
type ExternalSigner struct {
	Certificate *x509.Certificate
	CertChain   []*x509.Certificate
	Algorithm   cms.SignatureAlgorithm

	// SignFunc signs the DER-encoded signed attributes. For RSA it must
	// return a PKCS#1 v1.5 signature over their SHA-256 digest.
	SignFunc func(attrBytes []byte) ([]byte, error)
}

// NewExternalSigner builds an ExternalSigner for cert whose private key is
// held elsewhere.
func NewExternalSigner(cert *x509.Certificate, alg cms.SignatureAlgorithm, signFunc func([]byte) ([]byte, error)) *ExternalSigner {
	return &ExternalSigner{
		Certificate: cert,
		Algorithm:   alg,
		SignFunc:    signFunc,
	}
}

// Sign implements Signer.
func (s *ExternalSigner) Sign(data []byte) ([]byte, error) {
	if s.SignFunc == nil {
		return nil, errors.New("external signer has no SignFunc")
	}

	builder := cms.NewBuilder(s.Certificate, nil, s.Algorithm)
	builder.SetCertificateChain(s.CertChain)

	_, attrBytes, err := builder.SignedAttributesForSigning(data)
	if err != nil {
		return nil, err
	}
	signature, err := s.SignFunc(attrBytes)
	if err != nil {
		return nil, err
	}
	builder.SetPrecomputedSignature(signature)
	return builder.Sign(data)
}

// GetCertificate implements Signer.
func (s *ExternalSigner) GetCertificate() *x509.Certificate {
	return s.Certificate
}

// GetCertificateChain implements Signer.
func (s *ExternalSigner) GetCertificateChain() []*x509.Certificate {
	return s.CertChain
}

// EstimateSize implements Signer.
func (s *ExternalSigner) EstimateSize() int {
	return estimateSignatureSize(s.Certificate, s.CertChain)
}

// estimateSignatureSize returns the base CMS overhead plus the DER length
// of every embedded certificate, rounded up to a whole KiB so reruns with
// slightly different chains land on the same reservation.
func estimateSignatureSize(cert *x509.Certificate, chain []*x509.Certificate) int {
	size := signatureBaseSize
	if cert != nil {
		size += len(cert.Raw)
	}
	for _, c := range chain {
		size += len(c.Raw)
	}
	return roundKiB(size)
}

func roundKiB(n int) int {
	return (n + 1023) / 1024 * 1024
}
