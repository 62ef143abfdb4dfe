package signers

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"testing"

	"github.com/pdforge/pdforge/sign/cms"
)

func TestSimpleSignerSign(t *testing.T) {
	cert, key := newSignerCert(t)
	signer, err := NewSimpleSigner(cert, key)
	if err != nil {
		t.Fatalf("NewSimpleSigner: %v", err)
	}

	data := []byte("document bytes to sign")
	sig, err := signer.Sign(data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := cms.Parse(sig); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cms.Verify(sig, data); err != nil {
		t.Errorf("Verify: %v", err)
	}
	if !signer.GetCertificate().Equal(cert) {
		t.Error("GetCertificate returned a different certificate")
	}
}

func TestSimpleSignerEmbedsChain(t *testing.T) {
	cert, key := newSignerCert(t)
	chainCert, _ := newSignerCert(t)

	signer, err := NewSimpleSigner(cert, key)
	if err != nil {
		t.Fatalf("NewSimpleSigner: %v", err)
	}
	signer.SetCertificateChain([]*x509.Certificate{chainCert})

	sig, err := signer.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	certs, err := cms.GetSignerCertificates(sig)
	if err != nil {
		t.Fatalf("GetSignerCertificates: %v", err)
	}
	if len(certs) != 2 {
		t.Errorf("embedded certificates = %d, want 2", len(certs))
	}
}

func TestNewSimpleSignerRejectsUnsupportedKey(t *testing.T) {
	cert, _ := newSignerCert(t)
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	if _, err := NewSimpleSigner(cert, edKey); !errors.Is(err, cms.ErrUnsupportedAlgorithm) {
		t.Errorf("err = %v, want ErrUnsupportedAlgorithm", err)
	}
}

func TestExternalSigner(t *testing.T) {
	cert, key := newSignerCert(t)

	called := false
	signer := NewExternalSigner(cert, cms.SHA256WithRSA, func(attrBytes []byte) ([]byte, error) {
		called = true
		digest := sha256.Sum256(attrBytes)
		return rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	})

	data := []byte("externally signed content")
	sig, err := signer.Sign(data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !called {
		t.Fatal("external signing callback was never invoked")
	}
	if err := cms.Verify(sig, data); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestExternalSignerPropagatesError(t *testing.T) {
	cert, _ := newSignerCert(t)
	wantErr := errors.New("hsm unreachable")
	signer := NewExternalSigner(cert, cms.SHA256WithRSA, func([]byte) ([]byte, error) {
		return nil, wantErr
	})
	if _, err := signer.Sign([]byte("content")); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestEstimateSize(t *testing.T) {
	cert, key := newSignerCert(t)
	signer, err := NewSimpleSigner(cert, key)
	if err != nil {
		t.Fatalf("NewSimpleSigner: %v", err)
	}

	size := signer.EstimateSize()
	if size%1024 != 0 {
		t.Errorf("estimate %d is not a whole KiB multiple", size)
	}
	if size < 8192+len(cert.Raw) {
		t.Errorf("estimate %d does not cover base plus certificate", size)
	}

	chainCert, _ := newSignerCert(t)
	signer.SetCertificateChain(append(signer.GetCertificateChain(), chainCert))
	grown := signer.EstimateSize()
	if grown <= size {
		t.Errorf("estimate with chain = %d, want > %d", grown, size)
	}
}
