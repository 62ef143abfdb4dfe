package signers

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pdforge/pdforge/pdf/generic"
	"github.com/pdforge/pdforge/pdf/reader"
	"github.com/pdforge/pdforge/pdf/writer"
	"github.com/pdforge/pdforge/sign/fields"
)

var (
	// ErrByteRangeMismatch is fatal for the current reservation: the encoded
	// CMS did not fit the reserved /Contents width. No output is emitted;
	// Reserve must be re-run with a larger estimate.
	ErrByteRangeMismatch = errors.New("signature does not fit the reserved byte range")

	// ErrInvalidSessionState is returned when an operation is called out of
	// order, e.g. Digest before Reserve.
	ErrInvalidSessionState = errors.New("invalid signing session state")
)

// SigningError carries a message and the underlying cause through the
// signing pipeline.
type SigningError struct {
	Message string
	Cause   error
}

func (e *SigningError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *SigningError) Unwrap() error {
	return e.Cause
}

// SessionState tracks the signing workflow of one session.
type SessionState int

const (
	// StateUnsigned is the initial state: nothing reserved yet.
	StateUnsigned SessionState = iota
	// StateByteRangeReserved means the placeholder is serialized and the
	// final /ByteRange patched in.
	StateByteRangeReserved
	// StateDigested means the byte ranges have been hashed.
	StateDigested
	// StateSigned means the CMS signature is embedded.
	StateSigned
)

func (s SessionState) String() string {
	switch s {
	case StateUnsigned:
		return "unsigned"
	case StateByteRangeReserved:
		return "byte-range-reserved"
	case StateDigested:
		return "digested"
	case StateSigned:
		return "signed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// DefaultSubFilter is the signature encoding written when none is chosen.
const DefaultSubFilter = "adbe.pkcs7.detached"

// sigFilter is the signature handler name recorded in every signature
// dictionary.
const sigFilter = "Adobe.PPKLite"

// SessionOptions configures a SigningSession. The zero value signs page 0
// with an invisible field named by the next free Signature<n> slot.
type SessionOptions struct {
	// FieldName names the signature field. Empty picks the next free
	// Signature<n> name.
	FieldName string
	// Page is the zero-based page carrying the widget annotation.
	Page int
	// Box places a visible widget; nil keeps the signature invisible.
	Box *generic.Rectangle

	// Reason and Location seed the signature dictionary for the staged
	// Reserve/Digest/Sign flow. The one-shot Sign call overrides them.
	Reason   string
	Location string
	// ContactInfo and SignerName fill the matching dictionary entries.
	ContactInfo string
	SignerName  string
	// SubFilter overrides DefaultSubFilter.
	SubFilter string

	// Clock supplies the /M signing time. Defaults to the wall clock.
	Clock clockwork.Clock
}

// SigningSession drives one signature through
// Unsigned -> ByteRangeReserved -> Digested -> Signed. A session produces
// one signed document; sign again by opening a new session over the output.
type SigningSession struct {
	reader *reader.PdfFileReader
	writer *writer.IncrementalWriter
	opts   SessionOptions
	clock  clockwork.Clock

	state     SessionState
	fieldName string
	reason    string
	location  string

	reservedSize int
	sigInfo      *writer.SignatureInfo
	digest       []byte
	signed       []byte
}

// NewSigningSession parses data and prepares a session over it.
func NewSigningSession(data []byte, opts SessionOptions) (*SigningSession, error) {
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		return nil, &SigningError{Message: "parsing document", Cause: err}
	}
	return NewSigningSessionFromReader(r, opts), nil
}

// NewSigningSessionFromReader prepares a session over an already parsed
// document.
func NewSigningSessionFromReader(r *reader.PdfFileReader, opts SessionOptions) *SigningSession {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SigningSession{
		reader:   r,
		writer:   writer.NewIncrementalWriter(r),
		opts:     opts,
		clock:    clock,
		state:    StateUnsigned,
		reason:   opts.Reason,
		location: opts.Location,
	}
}

// State reports where the session is in the signing workflow.
func (s *SigningSession) State() SessionState { return s.state }

// FieldName returns the signature field name, available once Reserve ran.
func (s *SigningSession) FieldName() string { return s.fieldName }

// ReservedSize returns the /Contents reservation in bytes.
func (s *SigningSession) ReservedSize() int { return s.reservedSize }

// Reserve adds the signature field and dictionary, serializes the document
// incrementally with a zero-filled /Contents gap of estimatedSize bytes,
// and patches the final /ByteRange in place.
func (s *SigningSession) Reserve(estimatedSize int) error {
	if s.state != StateUnsigned {
		return fmt.Errorf("%w: byte range already reserved (state %s)", ErrInvalidSessionState, s.state)
	}
	if estimatedSize <= 0 {
		return &SigningError{Message: fmt.Sprintf("reserved size must be positive, got %d", estimatedSize)}
	}

	fieldName := s.opts.FieldName
	if fieldName == "" {
		fieldName = fields.NextAvailableName(s.reader, "Signature")
	}

	_, field, err := fields.Add(s.writer, fields.Spec{
		Name: fieldName,
		Page: s.opts.Page,
		Box:  s.opts.Box,
	})
	if err != nil {
		return &SigningError{Message: "adding signature field", Cause: err}
	}

	subFilter := s.opts.SubFilter
	if subFilter == "" {
		subFilter = DefaultSubFilter
	}

	sigDict := generic.NewDictionary()
	sigDict.Set("Type", generic.NameObject("Sig"))
	sigDict.Set("Filter", generic.NameObject(sigFilter))
	sigDict.Set("SubFilter", generic.NameObject(subFilter))
	if s.reason != "" {
		sigDict.Set("Reason", generic.NewTextString(s.reason))
	}
	if s.location != "" {
		sigDict.Set("Location", generic.NewTextString(s.location))
	}
	if s.opts.ContactInfo != "" {
		sigDict.Set("ContactInfo", generic.NewTextString(s.opts.ContactInfo))
	}
	if s.opts.SignerName != "" {
		sigDict.Set("Name", generic.NewTextString(s.opts.SignerName))
	}
	sigDict.Set("M", generic.NewTextString(FormatPDFDate(s.clock.Now())))
	sigDict.Set("Contents", generic.NewHexString(make([]byte, estimatedSize)))
	sigDict.Set("ByteRange", generic.ArrayObject{
		generic.IntegerObject(0),
		generic.IntegerObject(0),
		generic.IntegerObject(0),
		generic.IntegerObject(0),
	})

	sigDictRef := s.writer.AddObject(sigDict)
	field.Set("V", sigDictRef)

	info, err := s.writer.WriteWithSignature(&writer.SignaturePlaceholder{
		SigDict:      sigDict,
		SigDictRef:   sigDictRef,
		ContentsSize: estimatedSize,
	})
	if err != nil {
		return &SigningError{Message: "serializing signature placeholder", Cause: err}
	}

	s.fieldName = fieldName
	s.reservedSize = estimatedSize
	s.sigInfo = info
	s.state = StateByteRangeReserved
	return nil
}

// Digest hashes the two byte ranges with SHA-256 and returns the digest.
func (s *SigningSession) Digest() ([]byte, error) {
	if s.state != StateByteRangeReserved {
		return nil, fmt.Errorf("%w: Digest requires a reserved byte range (state %s)", ErrInvalidSessionState, s.state)
	}
	sum := sha256.Sum256(s.sigInfo.DataToSign())
	s.digest = sum[:]
	s.state = StateDigested
	return s.digest, nil
}

// Sign completes the session: from a fresh session it reserves (using the
// signer's own size estimate) and digests first, then embeds the detached
// CMS signature into the reserved gap and returns the signed bytes.
//
// A signature larger than the reservation fails with ErrByteRangeMismatch
// and resets the session so Reserve can be re-run with a larger estimate.
func (s *SigningSession) Sign(signer Signer, reason, location string) ([]byte, error) {
	if signer == nil {
		return nil, ErrSignerRequired
	}

	switch s.state {
	case StateSigned:
		return nil, fmt.Errorf("%w: session already produced a signed document", ErrInvalidSessionState)
	case StateUnsigned:
		if reason != "" {
			s.reason = reason
		}
		if location != "" {
			s.location = location
		}
		if err := s.Reserve(signer.EstimateSize()); err != nil {
			return nil, err
		}
	default:
		// The dictionary is already serialized; late metadata cannot be
		// honored.
		if (reason != "" && reason != s.reason) || (location != "" && location != s.location) {
			return nil, fmt.Errorf("%w: reason and location are fixed once the byte range is reserved", ErrInvalidSessionState)
		}
	}

	if s.state == StateByteRangeReserved {
		if _, err := s.Digest(); err != nil {
			return nil, err
		}
	}

	signature, err := signer.Sign(s.sigInfo.DataToSign())
	if err != nil {
		return nil, &SigningError{Message: "computing CMS signature", Cause: err}
	}

	signed, err := s.sigInfo.EmbedSignature(signature)
	if err != nil {
		s.reset()
		return nil, fmt.Errorf("%w: %v", ErrByteRangeMismatch, err)
	}

	s.signed = signed
	s.state = StateSigned
	return signed, nil
}

// SignedBytes returns the signed document once the session reached Signed.
func (s *SigningSession) SignedBytes() []byte { return s.signed }

// reset discards the pending reservation so a fresh Reserve can run.
func (s *SigningSession) reset() {
	s.writer = writer.NewIncrementalWriter(s.reader)
	s.sigInfo = nil
	s.digest = nil
	s.reservedSize = 0
	s.fieldName = ""
	s.state = StateUnsigned
}

// SignDocument runs a complete signing session over data and returns the
// signed bytes. Additional signatures stack by calling it again on the
// output.
func SignDocument(data []byte, signer Signer, reason, location string, opts SessionOptions) ([]byte, error) {
	session, err := NewSigningSession(data, opts)
	if err != nil {
		return nil, err
	}
	return session.Sign(signer, reason, location)
}

// FormatPDFDate renders t in the D:YYYYMMDDHHmmSS+HH'mm' form used by
// signature dictionaries.
func FormatPDFDate(t time.Time) string {
	_, offset := t.Zone()
	offsetHours := offset / 3600
	offsetMinutes := (offset % 3600) / 60

	sign := "+"
	if offset < 0 {
		sign = "-"
		offsetHours = -offsetHours
		offsetMinutes = -offsetMinutes
	}

	return fmt.Sprintf("D:%04d%02d%02d%02d%02d%02d%s%02d'%02d'",
		t.Year(), int(t.Month()), t.Day(),
		t.Hour(), t.Minute(), t.Second(),
		sign, offsetHours, offsetMinutes)
}

// ParsePDFDate parses a PDF date string, tolerating the truncated forms
// permitted by the format.
func ParsePDFDate(s string) (time.Time, error) {
	if len(s) < 2 || s[:2] != "D:" {
		return time.Time{}, fmt.Errorf("invalid PDF date: %q", s)
	}
	s = strings.ReplaceAll(s[2:], "'", "")

	formats := []string{
		"20060102150405-0700",
		"20060102150405Z",
		"20060102150405",
		"200601021504",
		"2006010215",
		"20060102",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse PDF date: %q", s)
}
