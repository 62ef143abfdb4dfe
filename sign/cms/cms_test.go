package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"math/big"
	"testing"
	"time"
)

func newTestCert(t *testing.T, key crypto.Signer, cn string) *x509.Certificate {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"Test Org"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert
}

func newRSASigner(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return newTestCert(t, key, "RSA Signer"), key
}

func newECDSASigner(t *testing.T) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return newTestCert(t, key, "ECDSA Signer"), key
}

func TestSignProducesParsableStructure(t *testing.T) {
	cert, key := newRSASigner(t)
	builder := NewBuilder(cert, key, SHA256WithRSA)

	signature, err := builder.Sign([]byte("data to sign"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	signedData, err := Parse(signature)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if signedData.Version != 1 {
		t.Errorf("version = %d, want 1", signedData.Version)
	}
	if len(signedData.SignerInfos) != 1 {
		t.Fatalf("signer infos = %d, want 1", len(signedData.SignerInfos))
	}
	if len(signedData.Certificates) != 1 {
		t.Errorf("certificates = %d, want 1", len(signedData.Certificates))
	}
	if !signedData.EncapContentInfo.EContentType.Equal(OIDData) {
		t.Errorf("content type = %v, want id-data", signedData.EncapContentInfo.EContentType)
	}
	if len(signedData.EncapContentInfo.EContent.Bytes) != 0 {
		t.Error("detached signature must not embed content")
	}
}

func TestSignEmbedsChain(t *testing.T) {
	cert, key := newRSASigner(t)
	chainCert, _ := newRSASigner(t)

	builder := NewBuilder(cert, key, SHA256WithRSA)
	builder.SetCertificateChain([]*x509.Certificate{chainCert})

	signature, err := builder.Sign([]byte("data"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	signedData, err := Parse(signature)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(signedData.Certificates) != 2 {
		t.Errorf("certificates = %d, want 2", len(signedData.Certificates))
	}
}

func TestSigningTimeRoundTrip(t *testing.T) {
	cert, key := newRSASigner(t)
	builder := NewBuilder(cert, key, SHA256WithRSA)
	want := time.Date(2024, 1, 2, 12, 30, 45, 0, time.UTC)
	builder.SetSigningTime(want)

	signature, err := builder.Sign([]byte("data"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	got, err := GetSigningTime(signature)
	if err != nil {
		t.Fatalf("GetSigningTime: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("signing time = %v, want %v", got, want)
	}
}

func TestVerify(t *testing.T) {
	content := []byte("the signed byte ranges")

	t.Run("rsa", func(t *testing.T) {
		cert, key := newRSASigner(t)
		signature, err := NewBuilder(cert, key, SHA256WithRSA).Sign(content)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		if err := Verify(signature, content); err != nil {
			t.Errorf("Verify: %v", err)
		}
	})

	t.Run("ecdsa", func(t *testing.T) {
		cert, key := newECDSASigner(t)
		signature, err := NewBuilder(cert, key, SHA256WithECDSA).Sign(content)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		if err := Verify(signature, content); err != nil {
			t.Errorf("Verify: %v", err)
		}
	})

	t.Run("sha384", func(t *testing.T) {
		cert, key := newRSASigner(t)
		signature, err := NewBuilder(cert, key, SHA384WithRSA).Sign(content)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		if err := Verify(signature, content); err != nil {
			t.Errorf("Verify: %v", err)
		}
	})
}

func TestVerifyTamperedContent(t *testing.T) {
	cert, key := newRSASigner(t)
	content := []byte("original content")
	signature, err := NewBuilder(cert, key, SHA256WithRSA).Sign(content)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tampered := append([]byte(nil), content...)
	tampered[0] ^= 0x01
	if err := Verify(signature, tampered); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("err = %v, want ErrDigestMismatch", err)
	}
}

func TestVerifyForgedSignature(t *testing.T) {
	cert, key := newRSASigner(t)
	content := []byte("content")

	builder := NewBuilder(cert, key, SHA256WithRSA)
	builder.SetPrecomputedSignature(make([]byte, 256))
	signature, err := builder.Sign(content)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(signature, content); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyMalformedInput(t *testing.T) {
	for _, data := range [][]byte{nil, {0x30}, []byte("not asn1 at all")} {
		if err := Verify(data, []byte("content")); !errors.Is(err, ErrMalformed) {
			t.Errorf("Verify(%q) = %v, want ErrMalformed", data, err)
		}
	}
}

func TestPrecomputedSignatureMatchesLocalSigning(t *testing.T) {
	cert, key := newRSASigner(t)
	content := []byte("externally signed content")

	builder := NewBuilder(cert, nil, SHA256WithRSA)
	builder.SetSigningTime(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	_, attrBytes, err := builder.SignedAttributesForSigning(content)
	if err != nil {
		t.Fatalf("SignedAttributesForSigning: %v", err)
	}
	digest := crypto.SHA256.New()
	digest.Write(attrBytes)
	raw, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest.Sum(nil))
	if err != nil {
		t.Fatalf("sign digest: %v", err)
	}
	builder.SetPrecomputedSignature(raw)

	signature, err := builder.Sign(content)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(signature, content); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestAlgorithmFor(t *testing.T) {
	_, rsaKey := newRSASigner(t)
	_, ecKey := newECDSASigner(t)
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}

	if alg, err := AlgorithmFor(rsaKey); err != nil || !alg.SignatureAlgorithm.Equal(OIDSHA256WithRSA) {
		t.Errorf("AlgorithmFor(rsa) = %v, %v", alg.SignatureAlgorithm, err)
	}
	if alg, err := AlgorithmFor(ecKey); err != nil || !alg.SignatureAlgorithm.Equal(OIDECDSAWithSHA256) {
		t.Errorf("AlgorithmFor(ecdsa) = %v, %v", alg.SignatureAlgorithm, err)
	}
	if _, err := AlgorithmFor(edKey); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("AlgorithmFor(ed25519) err = %v, want ErrUnsupportedAlgorithm", err)
	}
}

func TestGetSignerCertificates(t *testing.T) {
	cert, key := newRSASigner(t)
	signature, err := NewBuilder(cert, key, SHA256WithRSA).Sign([]byte("data"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	certs, err := GetSignerCertificates(signature)
	if err != nil {
		t.Fatalf("GetSignerCertificates: %v", err)
	}
	if len(certs) != 1 {
		t.Fatalf("certificates = %d, want 1", len(certs))
	}
	if certs[0].Subject.CommonName != "RSA Signer" {
		t.Errorf("common name = %q", certs[0].Subject.CommonName)
	}
}

func TestSetRevocationInfoRoundTrip(t *testing.T) {
	cert, key := newRSASigner(t)
	ocspDER := []byte{0x30, 0x03, 0x0a, 0x01, 0x00}
	crlDER := []byte{0x30, 0x05, 0x02, 0x01, 0x01, 0x05, 0x00}

	builder := NewBuilder(cert, key, SHA256WithRSA)
	builder.SetRevocationInfo([][]byte{crlDER}, [][]byte{ocspDER})

	data := []byte("content")
	signature, err := builder.Sign(data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	// The extra signed attribute must not break verification.
	if err := Verify(signature, data); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	signedData, err := Parse(signature)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var archival *RevocationInfoArchival
	for _, attr := range signedData.SignerInfos[0].SignedAttrs {
		if attr.Type.Equal(OIDAdobeRevocationInfoArchival) && len(attr.Values) > 0 {
			archival = new(RevocationInfoArchival)
			if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, archival); err != nil {
				t.Fatalf("Unmarshal archival: %v", err)
			}
		}
	}
	if archival == nil {
		t.Fatal("no revocation-info-archival attribute in signed attributes")
	}
	if len(archival.OCSPs) != 1 || !bytes.Equal(archival.OCSPs[0].FullBytes, ocspDER) {
		t.Error("archived OCSP response does not round trip")
	}
	if len(archival.CRLs) != 1 || !bytes.Equal(archival.CRLs[0].FullBytes, crlDER) {
		t.Error("archived CRL does not round trip")
	}
}
