// Package validation checks embedded PDF signatures without network
// access: byte-range digest, CMS signature, certificate validity around
// the recorded signing time, byte-range coverage, and any revocation
// material archived inside the signature itself.
package validation

import (
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pdforge/pdforge/pdf/reader"
	"github.com/pdforge/pdforge/sign/cms"
	"github.com/pdforge/pdforge/sign/signers"
)

var (
	ErrNoSignatures   = errors.New("no signatures found")
	ErrFieldNotFound  = errors.New("signature field not found")
	ErrFieldNotSigned = errors.New("signature field has no value")
)

// Status is the overall verdict for one signature.
type Status int

const (
	StatusUnknown Status = iota
	StatusValid
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "VALID"
	case StatusInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// Reason explains why a signature is invalid.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonMalformed marks structural failures: unreadable byte range or
	// CMS that does not parse.
	ReasonMalformed
	// ReasonDigestMismatch means the signed ranges were altered after
	// signing.
	ReasonDigestMismatch
	// ReasonSignatureInvalid means the digest matches but the signature
	// over the signed attributes does not verify.
	ReasonSignatureInvalid
	// ReasonCertificateExpired means the recorded signing time falls
	// outside the signer certificate's validity window.
	ReasonCertificateExpired
	// ReasonCertificateRevoked means archived revocation material shows
	// the certificate revoked no later than the signing time.
	ReasonCertificateRevoked
	// ReasonUntrustedChain means the certificate does not chain to the
	// configured roots.
	ReasonUntrustedChain
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMalformed:
		return "malformed"
	case ReasonDigestMismatch:
		return "digest mismatch"
	case ReasonSignatureInvalid:
		return "signature invalid"
	case ReasonCertificateExpired:
		return "certificate expired"
	case ReasonCertificateRevoked:
		return "certificate revoked"
	case ReasonUntrustedChain:
		return "untrusted chain"
	default:
		return "unknown"
	}
}

// Coverage classifies what part of the file the byte range spans.
type Coverage int

const (
	CoverageUnknown Coverage = iota
	// CoverageEntireFile means the range ends at the last byte; nothing
	// was appended after this signature.
	CoverageEntireFile
	// CoverageContiguous means the range starts at byte zero but later
	// revisions follow.
	CoverageContiguous
	// CoveragePartial means the range does not even start at byte zero.
	CoveragePartial
)

func (c Coverage) String() string {
	switch c {
	case CoverageEntireFile:
		return "entire file"
	case CoverageContiguous:
		return "contiguous"
	case CoveragePartial:
		return "partial"
	default:
		return "unknown"
	}
}

// RevocationInfo reports one piece of revocation material archived in the
// signature (Adobe revocation-info-archival attribute or the SignedData
// CRL bucket).
type RevocationInfo struct {
	// Source is "ocsp" or "crl".
	Source string
	// Status is "good", "revoked" or "unknown".
	Status     string
	Serial     *big.Int
	ThisUpdate time.Time
	NextUpdate time.Time
	RevokedAt  time.Time
	// Stale is set when NextUpdate has passed at verification time.
	Stale bool
}

// Options tunes verification. The zero value verifies offline with no
// trust anchoring.
type Options struct {
	// Roots enables chain verification against these anchors. Nil skips
	// the chain check entirely.
	Roots *x509.CertPool
	// Clock supplies the current time for staleness checks and as the
	// fallback reference when a signature records no time.
	Clock clockwork.Clock
}

// Result is the outcome for one embedded signature. Verification failures
// are value-level: Status/Reason/Detail describe them, errors are reserved
// for documents that cannot be inspected at all.
type Result struct {
	FieldName string
	Status    Status
	Reason    Reason
	Detail    string

	SignerName  string
	Certificate *x509.Certificate
	Chain       []*x509.Certificate

	// SigningTime is the dictionary /M entry, falling back to the CMS
	// signing-time attribute.
	SigningTime time.Time
	Coverage    Coverage
	SubFilter   string

	DeclaredReason   string
	DeclaredLocation string

	Revocation []RevocationInfo
}

// VerifySignatures parses data and verifies every embedded signature.
func VerifySignatures(data []byte, opts Options) ([]Result, error) {
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	return VerifyReader(r, opts)
}

// VerifyReader verifies every embedded signature in an already parsed
// document.
func VerifyReader(r *reader.PdfFileReader, opts Options) ([]Result, error) {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	sigs := r.EmbeddedSignatures()
	if len(sigs) == 0 {
		return nil, ErrNoSignatures
	}

	results := make([]Result, 0, len(sigs))
	for _, sig := range sigs {
		results = append(results, verifyOne(sig, opts, clock))
	}
	return results, nil
}

// VerifyField verifies the single signature held by the named field.
func VerifyField(r *reader.PdfFileReader, fieldName string, opts Options) (Result, error) {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	for _, sig := range r.EmbeddedSignatures() {
		if sig.FieldName() == fieldName {
			return verifyOne(sig, opts, clock), nil
		}
	}
	// EmbeddedSignatures skips unfilled fields, so distinguish a field
	// that exists but holds no signature from one that is absent.
	for _, field := range r.SignatureFields() {
		if name := field.GetString("T"); name != nil && name.Text() == fieldName {
			return Result{}, fmt.Errorf("%w: %q", ErrFieldNotSigned, fieldName)
		}
	}
	return Result{}, fmt.Errorf("%w: %q", ErrFieldNotFound, fieldName)
}

func verifyOne(sig *reader.EmbeddedSignature, opts Options, clock clockwork.Clock) Result {
	res := Result{
		FieldName:        sig.FieldName(),
		Status:           StatusInvalid,
		SubFilter:        sig.SubFilter(),
		DeclaredReason:   sig.Reason(),
		DeclaredLocation: sig.Location(),
		Coverage:         classifyCoverage(sig),
	}

	signedContent, err := sig.SignedBytes()
	if err != nil {
		res.Reason = ReasonMalformed
		res.Detail = fmt.Sprintf("extracting signed byte ranges: %v", err)
		return res
	}

	parsed, err := cms.Parse(sig.Contents)
	if err != nil {
		res.Reason = ReasonMalformed
		res.Detail = fmt.Sprintf("parsing CMS: %v", err)
		return res
	}

	if err := cms.Verify(sig.Contents, signedContent); err != nil {
		switch {
		case errors.Is(err, cms.ErrDigestMismatch):
			res.Reason = ReasonDigestMismatch
		case errors.Is(err, cms.ErrInvalidSignature):
			res.Reason = ReasonSignatureInvalid
		default:
			res.Reason = ReasonMalformed
		}
		res.Detail = err.Error()
		return res
	}

	certs, err := cms.GetSignerCertificates(sig.Contents)
	if err != nil || len(certs) == 0 {
		res.Reason = ReasonMalformed
		res.Detail = "no signer certificate embedded"
		return res
	}
	res.Certificate = signerCertificate(parsed, certs)
	res.SignerName = res.Certificate.Subject.CommonName
	for _, c := range certs {
		if !c.Equal(res.Certificate) {
			res.Chain = append(res.Chain, c)
		}
	}

	res.SigningTime = signingTime(sig)

	// The validity window is checked against the recorded signing time;
	// an unsigned time falls back to the verifier's clock.
	ref := res.SigningTime
	if ref.IsZero() {
		ref = clock.Now()
	}
	if ref.Before(res.Certificate.NotBefore) || ref.After(res.Certificate.NotAfter) {
		res.Reason = ReasonCertificateExpired
		res.Detail = fmt.Sprintf("signing time %s outside certificate validity [%s, %s]",
			ref.UTC().Format(time.RFC3339),
			res.Certificate.NotBefore.UTC().Format(time.RFC3339),
			res.Certificate.NotAfter.UTC().Format(time.RFC3339))
		return res
	}

	res.Revocation = archivedRevocation(parsed, clock)
	if at, revoked := revokedAt(res.Revocation, res.Certificate.SerialNumber); revoked {
		if res.SigningTime.IsZero() || !at.After(res.SigningTime) {
			res.Reason = ReasonCertificateRevoked
			res.Detail = fmt.Sprintf("certificate revoked at %s", at.UTC().Format(time.RFC3339))
			return res
		}
	}

	if opts.Roots != nil {
		intermediates := x509.NewCertPool()
		for _, c := range res.Chain {
			intermediates.AddCert(c)
		}
		_, err := res.Certificate.Verify(x509.VerifyOptions{
			Roots:         opts.Roots,
			Intermediates: intermediates,
			CurrentTime:   ref,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		})
		if err != nil {
			res.Reason = ReasonUntrustedChain
			res.Detail = err.Error()
			return res
		}
	}

	res.Status = StatusValid
	res.Reason = ReasonNone
	return res
}

// signerCertificate picks the certificate matching the SignerInfo serial,
// falling back to the first embedded one.
func signerCertificate(parsed *cms.SignedData, certs []*x509.Certificate) *x509.Certificate {
	if len(parsed.SignerInfos) > 0 {
		serial := parsed.SignerInfos[0].SID.SerialNumber
		if serial != nil {
			for _, c := range certs {
				if c.SerialNumber.Cmp(serial) == 0 {
					return c
				}
			}
		}
	}
	return certs[0]
}

// signingTime reads the dictionary /M entry, falling back to the CMS
// signing-time attribute.
func signingTime(sig *reader.EmbeddedSignature) time.Time {
	if m := sig.SigningTime(); m != "" {
		if t, err := signers.ParsePDFDate(m); err == nil {
			return t
		}
	}
	if t, err := cms.GetSigningTime(sig.Contents); err == nil {
		return t
	}
	return time.Time{}
}

func classifyCoverage(sig *reader.EmbeddedSignature) Coverage {
	if sig.CoversWholeFile() {
		return CoverageEntireFile
	}
	if sig.ByteRange[0] == 0 {
		return CoverageContiguous
	}
	return CoveragePartial
}
