// Package keys supplies the signing key material: loading certificates and
// private keys from PEM, DER and PKCS#12 sources, and generating self-signed
// certificates for offline use.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/jonboulle/clockwork"
	"software.sslmate.com/src/go-pkcs12"
)

// Common errors
var (
	ErrNoCertFound           = errors.New("no certificate found in data")
	ErrNoKeyFound            = errors.New("no private key found in data")
	ErrUnknownKeyType        = errors.New("unknown private key type")
	ErrInvalidPEMBlock       = errors.New("invalid PEM block")
	ErrDecryptionFailed      = errors.New("failed to decrypt private key")
	ErrMultipleCerts         = errors.New("expected exactly one certificate")
	ErrCertificateParse      = errors.New("certificate parse failed")
	ErrInvalidValidityWindow = errors.New("invalid certificate validity window")
)

// PrivateKey represents a private key that can be used for signing.
type PrivateKey interface {
	crypto.Signer
}

// LoadCertFromPemDer loads a single certificate from a PEM or DER encoded file.
func LoadCertFromPemDer(filename string) (*x509.Certificate, error) {
	certs, err := LoadCertsFromPemDer(filename)
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%w: found %d certificates in %s", ErrMultipleCerts, len(certs), filename)
	}
	return certs[0], nil
}

// LoadCertsFromPemDer loads certificates from a PEM or DER encoded file.
func LoadCertsFromPemDer(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCertsFromPemDerData(data)
}

// LoadCertsFromPemDerData loads certificates from PEM or DER encoded data.
func LoadCertsFromPemDerData(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}

			// Only process CERTIFICATE blocks
			if block.Type == "CERTIFICATE" {
				cert, err := x509.ParseCertificate(block.Bytes)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrCertificateParse, err)
				}
				certs = append(certs, cert)
			}
		}
	} else {
		// DER: a single cert or a concatenated bundle
		cert, err := x509.ParseCertificate(data)
		if err != nil {
			parsedCerts, parseErr := x509.ParseCertificates(data)
			if parseErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrCertificateParse, err)
			}
			certs = parsedCerts
		} else {
			certs = []*x509.Certificate{cert}
		}
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}

	return certs, nil
}

// LoadCertsFromPemDerFiles loads certificates from multiple files.
func LoadCertsFromPemDerFiles(filenames []string) ([]*x509.Certificate, error) {
	var allCerts []*x509.Certificate
	for _, filename := range filenames {
		certs, err := LoadCertsFromPemDer(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load certs from %s: %w", filename, err)
		}
		allCerts = append(allCerts, certs...)
	}
	return allCerts, nil
}

// LoadPrivateKeyFromPemDer loads a private key from a PEM or DER encoded file.
func LoadPrivateKeyFromPemDer(filename string, passphrase []byte) (PrivateKey, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadPrivateKeyFromPemDerData(data, passphrase)
}

// LoadPrivateKeyFromPemDerData loads a private key from PEM or DER encoded data.
func LoadPrivateKeyFromPemDerData(data []byte, passphrase []byte) (PrivateKey, error) {
	if isPEM(data) {
		return loadPrivateKeyFromPEM(data, passphrase)
	}
	return loadPrivateKeyFromDER(data)
}

// loadPrivateKeyFromPEM parses a PEM encoded private key.
func loadPrivateKeyFromPEM(data []byte, passphrase []byte) (PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEMBlock
	}

	var keyBytes []byte
	var err error

	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if passphrase == nil {
			return nil, fmt.Errorf("private key is encrypted but no passphrase provided")
		}
		keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
	} else {
		keyBytes = block.Bytes
	}

	return parsePrivateKeyByType(block.Type, keyBytes)
}

// loadPrivateKeyFromDER parses a DER encoded private key.
func loadPrivateKeyFromDER(data []byte) (PrivateKey, error) {
	// Try PKCS#8 first
	if key, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		return toPrivateKey(key)
	}

	// Try PKCS#1 RSA
	if key, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return key, nil
	}

	// Try SEC1 EC
	if key, err := x509.ParseECPrivateKey(data); err == nil {
		return key, nil
	}

	return nil, ErrNoKeyFound
}

// parsePrivateKeyByType parses a private key based on the PEM block type.
func parsePrivateKeyByType(blockType string, keyBytes []byte) (PrivateKey, error) {
	switch blockType {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(keyBytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(keyBytes)
	case "PRIVATE KEY", "ENCRYPTED PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		return toPrivateKey(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, blockType)
	}
}

// toPrivateKey converts a parsed key interface to our PrivateKey type.
func toPrivateKey(key interface{}) (PrivateKey, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
}

// isPEM checks if the data appears to be PEM encoded.
func isPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}

// LoadCertAndKeyFromPemDer loads a certificate and private key from files.
func LoadCertAndKeyFromPemDer(certFile, keyFile string, passphrase []byte) (*x509.Certificate, PrivateKey, error) {
	cert, err := LoadCertFromPemDer(certFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	key, err := LoadPrivateKeyFromPemDer(keyFile, passphrase)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load private key: %w", err)
	}

	return cert, key, nil
}

// PKCS12Credential holds the material loaded from a PKCS#12 bundle.
type PKCS12Credential struct {
	Certificate *x509.Certificate
	PrivateKey  PrivateKey
	CACerts     []*x509.Certificate
}

// LoadPKCS12 decodes a PKCS#12 bundle into its end-entity certificate,
// private key and CA chain.
func LoadPKCS12(data []byte, password string) (*PKCS12Credential, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12 data: %w", err)
	}

	signer, err := toPrivateKey(key)
	if err != nil {
		return nil, err
	}

	return &PKCS12Credential{
		Certificate: cert,
		PrivateKey:  signer,
		CACerts:     caCerts,
	}, nil
}

// LoadPKCS12File loads a PKCS#12 bundle from a file.
func LoadPKCS12File(filename, password string) (*PKCS12Credential, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadPKCS12(data, password)
}

// SelfSignedOptions configures certificate generation.
type SelfSignedOptions struct {
	// CommonName is the subject common name.
	CommonName string

	// Organization is the subject organization (optional).
	Organization string

	// DNSNames are subject alternative names (optional).
	DNSNames []string

	// ValidityDays is the validity window length; must be positive.
	ValidityDays int

	// KeyBits is the RSA modulus size. Zero means 2048.
	KeyBits int

	// Clock supplies the current time for the validity window.
	// Nil means the wall clock.
	Clock clockwork.Clock
}

// GenerateSelfSigned creates a self-signed RSA certificate usable for
// document signing. The validity window starts at the clock's current UTC
// time; the serial number is random.
func GenerateSelfSigned(opts SelfSignedOptions) (*x509.Certificate, crypto.Signer, error) {
	if opts.ValidityDays <= 0 {
		return nil, nil, fmt.Errorf("%w: validity must be at least one day, got %d",
			ErrInvalidValidityWindow, opts.ValidityDays)
	}

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	keyBits := opts.KeyBits
	if keyBits == 0 {
		keyBits = 2048
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := clock.Now().UTC()
	notAfter := notBefore.AddDate(0, 0, opts.ValidityDays)

	subject := pkix.Name{CommonName: opts.CommonName}
	if opts.Organization != "" {
		subject.Organization = []string{opts.Organization}
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		DNSNames:              opts.DNSNames,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCertificateParse, err)
	}

	return cert, key, nil
}

// CertificateToPEM serializes a certificate as a PEM CERTIFICATE block.
func CertificateToPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

// PrivateKeyToPEM serializes a private key as a PKCS#8 PEM block.
func PrivateKeyToPEM(key PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// KeyInfo contains information about a private key.
type KeyInfo struct {
	// Algorithm is the key algorithm (RSA, ECDSA, Ed25519)
	Algorithm string

	// BitSize is the key size in bits (for RSA)
	BitSize int

	// Curve is the elliptic curve name (for ECDSA)
	Curve string
}

// GetKeyInfo returns information about a private key.
func GetKeyInfo(key PrivateKey) KeyInfo {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return KeyInfo{
			Algorithm: "RSA",
			BitSize:   k.N.BitLen(),
		}
	case *ecdsa.PrivateKey:
		return KeyInfo{
			Algorithm: "ECDSA",
			Curve:     k.Curve.Params().Name,
		}
	case ed25519.PrivateKey:
		return KeyInfo{
			Algorithm: "Ed25519",
		}
	default:
		return KeyInfo{Algorithm: "Unknown"}
	}
}

// CertificateChain represents a chain of certificates.
type CertificateChain struct {
	// EndEntity is the end-entity (leaf) certificate.
	EndEntity *x509.Certificate

	// Intermediates are the intermediate certificates.
	Intermediates []*x509.Certificate

	// Root is the root certificate (if present).
	Root *x509.Certificate
}

// LoadCertificateChain loads a certificate chain from files.
// The first file should contain the end-entity certificate.
func LoadCertificateChain(certFiles []string) (*CertificateChain, error) {
	if len(certFiles) == 0 {
		return nil, errors.New("no certificate files provided")
	}

	allCerts, err := LoadCertsFromPemDerFiles(certFiles)
	if err != nil {
		return nil, err
	}
	if len(allCerts) == 0 {
		return nil, ErrNoCertFound
	}

	chain := &CertificateChain{
		EndEntity: allCerts[0],
	}

	if len(allCerts) > 1 {
		chain.Intermediates = allCerts[1:]

		// The last cert may be a self-signed root
		lastCert := allCerts[len(allCerts)-1]
		if isSelfSigned(lastCert) {
			chain.Root = lastCert
			chain.Intermediates = allCerts[1 : len(allCerts)-1]
		}
	}

	return chain, nil
}

// isSelfSigned checks if a certificate is self-signed.
func isSelfSigned(cert *x509.Certificate) bool {
	return cert.Subject.String() == cert.Issuer.String()
}
