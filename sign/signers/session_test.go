package signers

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pdforge/pdforge/pdf/generic"
	"github.com/pdforge/pdforge/pdf/reader"
	"github.com/pdforge/pdforge/pdf/writer"
	"github.com/pdforge/pdforge/sign/cms"
)

func newSignerCert(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "Session Test Signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}
	return cert, key
}

func newTestSigner(t *testing.T) *SimpleSigner {
	t.Helper()
	cert, key := newSignerCert(t)
	signer, err := NewSimpleSigner(cert, key)
	if err != nil {
		t.Fatalf("NewSimpleSigner: %v", err)
	}
	return signer
}

func buildPdf(t *testing.T, pages int) []byte {
	t.Helper()
	w := writer.NewPdfFileWriter("1.7")
	for i := 0; i < pages; i++ {
		w.AddPage(generic.Rectangle{URX: 612, URY: 792}, []byte("BT /F0 24 Tf 72 720 Td (hello) Tj ET"))
	}
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("building fixture: %v", err)
	}
	return data
}

func TestSessionStateFlow(t *testing.T) {
	signer := newTestSigner(t)
	data := buildPdf(t, 1)

	session, err := NewSigningSession(data, SessionOptions{})
	if err != nil {
		t.Fatalf("NewSigningSession: %v", err)
	}
	if session.State() != StateUnsigned {
		t.Fatalf("initial state = %s", session.State())
	}

	if err := session.Reserve(16384); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if session.State() != StateByteRangeReserved {
		t.Errorf("state after Reserve = %s", session.State())
	}
	if session.FieldName() != "Signature1" {
		t.Errorf("field name = %q", session.FieldName())
	}
	if session.ReservedSize() != 16384 {
		t.Errorf("reserved size = %d", session.ReservedSize())
	}

	digest, err := session.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if len(digest) != 32 {
		t.Errorf("digest length = %d, want 32", len(digest))
	}
	if session.State() != StateDigested {
		t.Errorf("state after Digest = %s", session.State())
	}

	signed, err := session.Sign(signer, "", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if session.State() != StateSigned {
		t.Errorf("state after Sign = %s", session.State())
	}
	if !bytes.Equal(session.SignedBytes(), signed) {
		t.Error("SignedBytes does not match the Sign return value")
	}

	r, err := reader.NewPdfFileReaderFromBytes(signed)
	if err != nil {
		t.Fatalf("reloading signed output: %v", err)
	}
	sigs := r.EmbeddedSignatures()
	if len(sigs) != 1 {
		t.Fatalf("embedded signatures = %d, want 1", len(sigs))
	}
}

func TestSessionInvalidTransitions(t *testing.T) {
	signer := newTestSigner(t)
	data := buildPdf(t, 1)

	t.Run("digest before reserve", func(t *testing.T) {
		session, _ := NewSigningSession(data, SessionOptions{})
		if _, err := session.Digest(); !errors.Is(err, ErrInvalidSessionState) {
			t.Errorf("err = %v, want ErrInvalidSessionState", err)
		}
	})

	t.Run("double reserve", func(t *testing.T) {
		session, _ := NewSigningSession(data, SessionOptions{})
		if err := session.Reserve(16384); err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if err := session.Reserve(16384); !errors.Is(err, ErrInvalidSessionState) {
			t.Errorf("err = %v, want ErrInvalidSessionState", err)
		}
	})

	t.Run("sign after signed", func(t *testing.T) {
		session, _ := NewSigningSession(data, SessionOptions{})
		if _, err := session.Sign(signer, "", ""); err != nil {
			t.Fatalf("Sign: %v", err)
		}
		if _, err := session.Sign(signer, "", ""); !errors.Is(err, ErrInvalidSessionState) {
			t.Errorf("err = %v, want ErrInvalidSessionState", err)
		}
	})

	t.Run("nonpositive reserve", func(t *testing.T) {
		session, _ := NewSigningSession(data, SessionOptions{})
		err := session.Reserve(0)
		var sigErr *SigningError
		if !errors.As(err, &sigErr) {
			t.Errorf("err = %T, want *SigningError", err)
		}
	})

	t.Run("nil signer", func(t *testing.T) {
		session, _ := NewSigningSession(data, SessionOptions{})
		if _, err := session.Sign(nil, "", ""); !errors.Is(err, ErrSignerRequired) {
			t.Errorf("err = %v, want ErrSignerRequired", err)
		}
	})
}

func TestSignOneShot(t *testing.T) {
	signer := newTestSigner(t)
	data := buildPdf(t, 1)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC))

	signed, err := SignDocument(data, signer, "contract approval", "head office", SessionOptions{
		ContactInfo: "signer@example.com",
		SignerName:  "Session Test Signer",
		Clock:       clock,
	})
	if err != nil {
		t.Fatalf("SignDocument: %v", err)
	}

	r, err := reader.NewPdfFileReaderFromBytes(signed)
	if err != nil {
		t.Fatalf("reloading signed output: %v", err)
	}
	sigs := r.EmbeddedSignatures()
	if len(sigs) != 1 {
		t.Fatalf("embedded signatures = %d, want 1", len(sigs))
	}
	sig := sigs[0]

	if got := sig.Dictionary.GetName("Filter"); got != "Adobe.PPKLite" {
		t.Errorf("/Filter = %q", got)
	}
	if got := sig.SubFilter(); got != "adbe.pkcs7.detached" {
		t.Errorf("/SubFilter = %q", got)
	}
	if got := sig.Reason(); got != "contract approval" {
		t.Errorf("/Reason = %q", got)
	}
	if got := sig.Location(); got != "head office" {
		t.Errorf("/Location = %q", got)
	}
	if got := sig.SigningTime(); got != "D:20240315103000+00'00'" {
		t.Errorf("/M = %q", got)
	}
	if got := sig.FieldName(); got != "Signature1" {
		t.Errorf("field name = %q", got)
	}
	if !sig.CoversWholeFile() {
		t.Error("byte range should cover the whole file")
	}

	signedContent, err := sig.SignedBytes()
	if err != nil {
		t.Fatalf("SignedBytes: %v", err)
	}
	if err := cms.Verify(sig.Contents, signedContent); err != nil {
		t.Errorf("CMS verification failed: %v", err)
	}
}

func TestSignPreservesOriginalBytes(t *testing.T) {
	signer := newTestSigner(t)
	data := buildPdf(t, 2)

	signed, err := SignDocument(data, signer, "", "", SessionOptions{})
	if err != nil {
		t.Fatalf("SignDocument: %v", err)
	}
	if !bytes.HasPrefix(signed, data) {
		t.Error("signing must not modify the original bytes")
	}
}

func TestSignContentsWidthExact(t *testing.T) {
	signer := newTestSigner(t)
	data := buildPdf(t, 1)

	session, err := NewSigningSession(data, SessionOptions{})
	if err != nil {
		t.Fatalf("NewSigningSession: %v", err)
	}
	signed, err := session.Sign(signer, "", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// The /Contents hex run must have exactly the reserved width.
	idx := bytes.LastIndex(signed, []byte("/Contents"))
	if idx < 0 {
		t.Fatal("no /Contents entry in output")
	}
	open := bytes.IndexByte(signed[idx:], '<')
	if open < 0 {
		t.Fatal("no hex string after /Contents")
	}
	open += idx + 1
	end := bytes.IndexByte(signed[open:], '>')
	if end < 0 {
		t.Fatal("unterminated hex string after /Contents")
	}
	if end != session.ReservedSize()*2 {
		t.Errorf("hex run is %d digits, want %d", end, session.ReservedSize()*2)
	}

	r, err := reader.NewPdfFileReaderFromBytes(signed)
	if err != nil {
		t.Fatalf("reloading signed output: %v", err)
	}
	sigs := r.EmbeddedSignatures()
	if len(sigs) != 1 {
		t.Fatalf("embedded signatures = %d, want 1", len(sigs))
	}
	if len(sigs[0].Contents) != session.ReservedSize() {
		t.Errorf("decoded /Contents length = %d, want %d", len(sigs[0].Contents), session.ReservedSize())
	}
}

func TestSignReservationTooSmall(t *testing.T) {
	signer := newTestSigner(t)
	data := buildPdf(t, 1)

	session, err := NewSigningSession(data, SessionOptions{})
	if err != nil {
		t.Fatalf("NewSigningSession: %v", err)
	}
	if err := session.Reserve(64); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	_, err = session.Sign(signer, "", "")
	if !errors.Is(err, ErrByteRangeMismatch) {
		t.Fatalf("err = %v, want ErrByteRangeMismatch", err)
	}
	if session.SignedBytes() != nil {
		t.Error("no output may be emitted after a byte range mismatch")
	}
	if session.State() != StateUnsigned {
		t.Fatalf("state after mismatch = %s, want unsigned", session.State())
	}

	// Re-running Reserve with the signer's own estimate must succeed.
	if err := session.Reserve(signer.EstimateSize()); err != nil {
		t.Fatalf("second Reserve: %v", err)
	}
	if _, err := session.Sign(signer, "", ""); err != nil {
		t.Fatalf("Sign after re-reserve: %v", err)
	}
}

func TestSequentialSignatures(t *testing.T) {
	first := newTestSigner(t)
	second := newTestSigner(t)
	data := buildPdf(t, 1)

	signedOnce, err := SignDocument(data, first, "first approval", "", SessionOptions{})
	if err != nil {
		t.Fatalf("first SignDocument: %v", err)
	}
	signedTwice, err := SignDocument(signedOnce, second, "second approval", "", SessionOptions{})
	if err != nil {
		t.Fatalf("second SignDocument: %v", err)
	}
	if !bytes.HasPrefix(signedTwice, signedOnce) {
		t.Error("second signature must not modify the first revision")
	}

	r, err := reader.NewPdfFileReaderFromBytes(signedTwice)
	if err != nil {
		t.Fatalf("reloading output: %v", err)
	}
	sigs := r.EmbeddedSignatures()
	if len(sigs) != 2 {
		t.Fatalf("embedded signatures = %d, want 2", len(sigs))
	}
	if sigs[0].FieldName() != "Signature1" || sigs[1].FieldName() != "Signature2" {
		t.Errorf("field names = %q, %q", sigs[0].FieldName(), sigs[1].FieldName())
	}

	// Both signatures verify; only the newest covers the whole file.
	for i, sig := range sigs {
		content, err := sig.SignedBytes()
		if err != nil {
			t.Fatalf("SignedBytes(%d): %v", i, err)
		}
		if err := cms.Verify(sig.Contents, content); err != nil {
			t.Errorf("signature %d verification failed: %v", i, err)
		}
	}
	if sigs[0].CoversWholeFile() {
		t.Error("first signature should not cover the second revision")
	}
	if !sigs[1].CoversWholeFile() {
		t.Error("second signature should cover the whole file")
	}
}

func TestSignMetadataFixedAfterReserve(t *testing.T) {
	signer := newTestSigner(t)
	data := buildPdf(t, 1)

	session, err := NewSigningSession(data, SessionOptions{Reason: "original reason"})
	if err != nil {
		t.Fatalf("NewSigningSession: %v", err)
	}
	if err := session.Reserve(16384); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := session.Sign(signer, "changed reason", ""); !errors.Is(err, ErrInvalidSessionState) {
		t.Errorf("err = %v, want ErrInvalidSessionState", err)
	}
	// The recorded metadata still signs fine.
	if _, err := session.Sign(signer, "original reason", ""); err != nil {
		t.Fatalf("Sign with matching metadata: %v", err)
	}
}

func TestSignVisibleField(t *testing.T) {
	signer := newTestSigner(t)
	data := buildPdf(t, 1)

	box := generic.Rectangle{LLX: 400, LLY: 60, URX: 560, URY: 120}
	signed, err := SignDocument(data, signer, "", "", SessionOptions{FieldName: "Approval", Box: &box})
	if err != nil {
		t.Fatalf("SignDocument: %v", err)
	}

	r, err := reader.NewPdfFileReaderFromBytes(signed)
	if err != nil {
		t.Fatalf("reloading output: %v", err)
	}
	sigs := r.EmbeddedSignatures()
	if len(sigs) != 1 {
		t.Fatalf("embedded signatures = %d, want 1", len(sigs))
	}
	if sigs[0].FieldName() != "Approval" {
		t.Errorf("field name = %q", sigs[0].FieldName())
	}
	rect, err := generic.NewRectangle(sigs[0].Field.GetArray("Rect"))
	if err != nil {
		t.Fatalf("/Rect: %v", err)
	}
	if rect.Width() != 160 || rect.Height() != 60 {
		t.Errorf("widget rect = %g x %g, want 160 x 60", rect.Width(), rect.Height())
	}
}

func TestSigningErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &SigningError{Message: "stage failed", Cause: cause}
	if err.Error() != "stage failed: root cause" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should expose the cause")
	}

	bare := &SigningError{Message: "stage failed"}
	if bare.Error() != "stage failed" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

func TestFormatPDFDate(t *testing.T) {
	cases := []struct {
		t    time.Time
		want string
	}{
		{time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC), "D:20240315103000+00'00'"},
		{time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("", 5*3600+30*60)), "D:20240102030405+05'30'"},
		{time.Date(2024, 12, 31, 23, 59, 58, 0, time.FixedZone("", -8*3600)), "D:20241231235958-08'00'"},
	}
	for _, tc := range cases {
		if got := FormatPDFDate(tc.t); got != tc.want {
			t.Errorf("FormatPDFDate(%v) = %q, want %q", tc.t, got, tc.want)
		}
	}
}

func TestParsePDFDate(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "D:20240315103000+00'00'", want: time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)},
		{in: "D:20240102030405-08'00'", want: time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("", -8*3600))},
		{in: "D:20240315103000Z", want: time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)},
		{in: "D:20240315", want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{in: "20240315103000", wantErr: true},
		{in: "D:not-a-date", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParsePDFDate(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParsePDFDate(%q) expected an error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePDFDate(%q): %v", tc.in, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParsePDFDate(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParsePDFDateRoundTrip(t *testing.T) {
	orig := time.Date(2025, 6, 1, 14, 45, 30, 0, time.UTC)
	parsed, err := ParsePDFDate(FormatPDFDate(orig))
	if err != nil {
		t.Fatalf("ParsePDFDate: %v", err)
	}
	if !parsed.Equal(orig) {
		t.Errorf("round trip = %v, want %v", parsed, orig)
	}
}
