package signers

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	pkcs11 "github.com/miekg/pkcs11"

	"github.com/pdforge/pdforge/config"
	"github.com/pdforge/pdforge/sign/cms"
)

func newECDSACert(t *testing.T) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "ECDSA Token Cert"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}
	return cert
}

func TestTokenMatches(t *testing.T) {
	cases := []struct {
		name     string
		info     pkcs11.TokenInfo
		criteria *config.TokenCriteria
		want     bool
	}{
		{
			name: "nil criteria matches anything",
			info: pkcs11.TokenInfo{Label: "token one"},
			want: true,
		},
		{
			name:     "label with trailing padding",
			info:     pkcs11.TokenInfo{Label: "SmartCard-HSM      "},
			criteria: &config.TokenCriteria{Label: "SmartCard-HSM"},
			want:     true,
		},
		{
			name:     "label mismatch",
			info:     pkcs11.TokenInfo{Label: "other token"},
			criteria: &config.TokenCriteria{Label: "SmartCard-HSM"},
			want:     false,
		},
		{
			name:     "serial with trailing padding",
			info:     pkcs11.TokenInfo{SerialNumber: "DECC0100754  "},
			criteria: &config.TokenCriteria{Serial: "DECC0100754"},
			want:     true,
		},
		{
			name:     "both label and serial must match",
			info:     pkcs11.TokenInfo{Label: "SmartCard-HSM", SerialNumber: "DECC0100754"},
			criteria: &config.TokenCriteria{Label: "SmartCard-HSM", Serial: "DECC9999999"},
			want:     false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tokenMatches(tc.info, tc.criteria); got != tc.want {
				t.Errorf("tokenMatches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEncodeECDSASignature(t *testing.T) {
	r := new(big.Int).SetInt64(0x1234567890abcdef)
	s := new(big.Int).SetInt64(0x0fedcba987654321)
	raw := make([]byte, 64)
	r.FillBytes(raw[:32])
	s.FillBytes(raw[32:])

	encoded, err := encodeECDSASignature(raw)
	if err != nil {
		t.Fatalf("encodeECDSASignature: %v", err)
	}
	var decoded struct {
		R, S *big.Int
	}
	if _, err := asn1.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.R.Cmp(r) != 0 || decoded.S.Cmp(s) != 0 {
		t.Errorf("decoded (r, s) = (%v, %v), want (%v, %v)", decoded.R, decoded.S, r, s)
	}

	if _, err := encodeECDSASignature(nil); err == nil {
		t.Error("empty signature should be rejected")
	}
	if _, err := encodeECDSASignature(make([]byte, 63)); err == nil {
		t.Error("odd-length signature should be rejected")
	}
}

func TestWrapDigestInfo(t *testing.T) {
	digest := sha256.Sum256([]byte("payload"))
	wrapped, err := wrapDigestInfo(digest[:])
	if err != nil {
		t.Fatalf("wrapDigestInfo: %v", err)
	}

	var decoded struct {
		Algorithm struct {
			OID        asn1.ObjectIdentifier
			Parameters asn1.RawValue `asn1:"optional"`
		}
		Digest []byte
	}
	if _, err := asn1.Unmarshal(wrapped, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	wantOID := asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	if !decoded.Algorithm.OID.Equal(wantOID) {
		t.Errorf("digest OID = %v, want %v", decoded.Algorithm.OID, wantOID)
	}
	if !bytes.Equal(decoded.Digest, digest[:]) {
		t.Error("wrapped digest does not match the input")
	}
}

func TestPKCS11SignerAlgorithm(t *testing.T) {
	rsaCert, _ := newSignerCert(t)
	ecCert := newECDSACert(t)

	signer := NewPKCS11Signer(nil).WithSigningCertificate(rsaCert)
	alg, err := signer.algorithm()
	if err != nil {
		t.Fatalf("algorithm: %v", err)
	}
	if !alg.SignatureAlgorithm.Equal(cms.SHA256WithRSA.SignatureAlgorithm) {
		t.Errorf("RSA cert mapped to %v", alg.SignatureAlgorithm)
	}

	signer = NewPKCS11Signer(nil).WithSigningCertificate(ecCert)
	alg, err = signer.algorithm()
	if err != nil {
		t.Fatalf("algorithm: %v", err)
	}
	if !alg.SignatureAlgorithm.Equal(cms.SHA256WithECDSA.SignatureAlgorithm) {
		t.Errorf("ECDSA cert mapped to %v", alg.SignatureAlgorithm)
	}
}

func TestSigningMechanismSelection(t *testing.T) {
	rsaCert, _ := newSignerCert(t)
	ecCert := newECDSACert(t)
	payload := []byte("signed attributes")

	t.Run("rsa hash and sign", func(t *testing.T) {
		signer := NewPKCS11Signer(nil).WithSigningCertificate(rsaCert)
		mech, input, encode, err := signer.signingMechanism(payload)
		if err != nil {
			t.Fatalf("signingMechanism: %v", err)
		}
		if mech.Mechanism != pkcs11.CKM_SHA256_RSA_PKCS {
			t.Errorf("mechanism = %#x", mech.Mechanism)
		}
		if !bytes.Equal(input, payload) {
			t.Error("hash-and-sign should hand the token the full payload")
		}
		if encode != nil {
			t.Error("RSA output needs no re-encoding")
		}
	})

	t.Run("rsa raw mechanism", func(t *testing.T) {
		signer := NewPKCS11Signer(nil).WithSigningCertificate(rsaCert).WithRawMechanism(true)
		mech, input, _, err := signer.signingMechanism(payload)
		if err != nil {
			t.Fatalf("signingMechanism: %v", err)
		}
		if mech.Mechanism != pkcs11.CKM_RSA_PKCS {
			t.Errorf("mechanism = %#x", mech.Mechanism)
		}
		digest := sha256.Sum256(payload)
		wrapped, err := wrapDigestInfo(digest[:])
		if err != nil {
			t.Fatalf("wrapDigestInfo: %v", err)
		}
		if !bytes.Equal(input, wrapped) {
			t.Error("raw mechanism should hand the token a DigestInfo")
		}
	})

	t.Run("ecdsa raw mechanism", func(t *testing.T) {
		signer := NewPKCS11Signer(nil).WithSigningCertificate(ecCert).WithRawMechanism(true)
		mech, input, encode, err := signer.signingMechanism(payload)
		if err != nil {
			t.Fatalf("signingMechanism: %v", err)
		}
		if mech.Mechanism != pkcs11.CKM_ECDSA {
			t.Errorf("mechanism = %#x", mech.Mechanism)
		}
		digest := sha256.Sum256(payload)
		if !bytes.Equal(input, digest[:]) {
			t.Error("raw ECDSA should hand the token the bare digest")
		}
		if encode == nil {
			t.Error("ECDSA output must be re-encoded as ASN.1")
		}
	})
}

func TestPKCS11SignerEstimateSize(t *testing.T) {
	cert, _ := newSignerCert(t)
	chainCert, _ := newSignerCert(t)

	signer := NewPKCS11Signer(nil).WithSigningCertificate(cert)
	size := signer.EstimateSize()
	if size%1024 != 0 {
		t.Errorf("estimate %d is not a whole KiB multiple", size)
	}
	if size < 8192+len(cert.Raw) {
		t.Errorf("estimate %d does not cover base plus certificate", size)
	}

	grown := signer.WithCertificateChain([]*x509.Certificate{chainCert}).EstimateSize()
	if grown <= size {
		t.Errorf("estimate with chain = %d, want > %d", grown, size)
	}
}
