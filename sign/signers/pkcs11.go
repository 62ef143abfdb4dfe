package signers

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	pkcs11 "github.com/miekg/pkcs11"

	"github.com/pdforge/pdforge/config"
	"github.com/pdforge/pdforge/sign/cms"
)

var (
	ErrPKCS11ModuleLoad     = errors.New("failed to load PKCS#11 module")
	ErrPKCS11NoToken        = errors.New("no matching token found")
	ErrPKCS11NoKey          = errors.New("private key not found")
	ErrPKCS11NoCert         = errors.New("certificate not found")
	ErrPKCS11MultipleKeys   = errors.New("multiple private keys found")
	ErrPKCS11MultipleCerts  = errors.New("multiple certificates found")
	ErrPKCS11SessionFailed  = errors.New("failed to open PKCS#11 session")
	ErrPKCS11LoginFailed    = errors.New("PKCS#11 login failed")
	ErrPKCS11SignFailed     = errors.New("PKCS#11 signing failed")
	ErrPKCS11UnsupportedAlg = errors.New("unsupported algorithm for PKCS#11")
)

// PKCS11Session wraps an initialized module with one open session.
type PKCS11Session struct {
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
	slotID  uint
}

// Close tears the session and the module down.
func (s *PKCS11Session) Close() error {
	if s.ctx == nil {
		return nil
	}
	err := s.ctx.CloseSession(s.session)
	s.ctx.Finalize()
	s.ctx.Destroy()
	s.ctx = nil
	return err
}

// OpenPKCS11Session loads the module at modulePath, picks a slot by number
// or token criteria, opens a session and logs in. With deferPIN set and no
// PIN given, authentication is left to the token's own PIN pad.
func OpenPKCS11Session(modulePath string, slotNo *int, criteria *config.TokenCriteria, userPIN string, deferPIN bool) (*PKCS11Session, error) {
	ctx := pkcs11.New(modulePath)
	if ctx == nil {
		return nil, fmt.Errorf("%w: %s", ErrPKCS11ModuleLoad, modulePath)
	}
	if err := ctx.Initialize(); err != nil {
		ctx.Destroy()
		return nil, fmt.Errorf("PKCS#11 initialize failed: %w", err)
	}

	teardown := func() {
		ctx.Finalize()
		ctx.Destroy()
	}

	slots, err := ctx.GetSlotList(true)
	if err != nil {
		teardown()
		return nil, fmt.Errorf("listing slots: %w", err)
	}
	if len(slots) == 0 {
		teardown()
		return nil, fmt.Errorf("%w: no slots with tokens available", ErrPKCS11NoToken)
	}

	slot, err := findTokenSlot(ctx, slots, slotNo, criteria)
	if err != nil {
		teardown()
		return nil, err
	}

	session, err := ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		teardown()
		return nil, fmt.Errorf("%w: %v", ErrPKCS11SessionFailed, err)
	}

	if userPIN != "" || deferPIN {
		if err := ctx.Login(session, pkcs11.CKU_USER, userPIN); err != nil {
			ctx.CloseSession(session)
			teardown()
			return nil, fmt.Errorf("%w: %v", ErrPKCS11LoginFailed, err)
		}
	}

	return &PKCS11Session{ctx: ctx, session: session, slotID: slot}, nil
}

// findTokenSlot resolves the slot to use from an explicit number, token
// criteria, or a single available token.
func findTokenSlot(ctx *pkcs11.Ctx, slots []uint, slotNo *int, criteria *config.TokenCriteria) (uint, error) {
	if slotNo != nil {
		if *slotNo < 0 || *slotNo >= len(slots) {
			return 0, fmt.Errorf("slot %d not found (%d slots available)", *slotNo, len(slots))
		}
		slot := slots[*slotNo]
		if !criteria.IsEmpty() {
			info, err := ctx.GetTokenInfo(slot)
			if err != nil {
				return 0, fmt.Errorf("reading token info: %w", err)
			}
			if !tokenMatches(info, criteria) {
				return 0, fmt.Errorf("%w: token in slot %d does not match %s", ErrPKCS11NoToken, *slotNo, criteria)
			}
		}
		return slot, nil
	}

	if !criteria.IsEmpty() {
		for _, slot := range slots {
			info, err := ctx.GetTokenInfo(slot)
			if err != nil {
				continue
			}
			if tokenMatches(info, criteria) {
				return slot, nil
			}
		}
		return 0, fmt.Errorf("%w: no token matching %s", ErrPKCS11NoToken, criteria)
	}

	if len(slots) > 1 {
		return 0, errors.New("multiple tokens available; specify a slot number or token criteria")
	}
	return slots[0], nil
}

// tokenMatches compares a token against the configured criteria. PKCS#11
// pads label and serial with trailing spaces.
func tokenMatches(info pkcs11.TokenInfo, criteria *config.TokenCriteria) bool {
	if criteria.IsEmpty() {
		return true
	}
	if criteria.Label != "" && strings.TrimRight(info.Label, " ") != criteria.Label {
		return false
	}
	if criteria.Serial != "" && strings.TrimRight(info.SerialNumber, " ") != criteria.Serial {
		return false
	}
	return true
}

// PKCS11Signer signs through a hardware token. The raw signature is
// computed on the token; the CMS structure is assembled locally around it.
type PKCS11Signer struct {
	session *PKCS11Session

	certLabel string
	certID    []byte
	keyLabel  string
	keyID     []byte
	rawMech   bool

	keyHandle   pkcs11.ObjectHandle
	signingCert *x509.Certificate
	certChain   []*x509.Certificate

	loaded bool
	mu     sync.Mutex
}

// NewPKCS11Signer builds a signer over an open session. Configure it with
// the With* setters, then Load (or let the first Sign load lazily).
func NewPKCS11Signer(session *PKCS11Session) *PKCS11Signer {
	return &PKCS11Signer{session: session}
}

// WithCertLabel selects the signing certificate by its token label.
func (s *PKCS11Signer) WithCertLabel(label string) *PKCS11Signer {
	s.certLabel = label
	return s
}

// WithCertID selects the signing certificate by its token object ID.
func (s *PKCS11Signer) WithCertID(id []byte) *PKCS11Signer {
	s.certID = id
	return s
}

// WithKeyLabel selects the private key by its token label.
func (s *PKCS11Signer) WithKeyLabel(label string) *PKCS11Signer {
	s.keyLabel = label
	return s
}

// WithKeyID selects the private key by its token object ID.
func (s *PKCS11Signer) WithKeyID(id []byte) *PKCS11Signer {
	s.keyID = id
	return s
}

// WithRawMechanism hashes locally and sends only the digest to the token,
// for modules that lack the hash-and-sign mechanisms.
func (s *PKCS11Signer) WithRawMechanism(raw bool) *PKCS11Signer {
	s.rawMech = raw
	return s
}

// WithSigningCertificate supplies the certificate directly instead of
// pulling it from the token.
func (s *PKCS11Signer) WithSigningCertificate(cert *x509.Certificate) *PKCS11Signer {
	s.signingCert = cert
	return s
}

// WithCertificateChain sets the intermediates embedded in the CMS.
func (s *PKCS11Signer) WithCertificateChain(chain []*x509.Certificate) *PKCS11Signer {
	s.certChain = chain
	return s
}

// Load resolves the certificate and key handle on the token. Label and ID
// default across the pair: identifying only the certificate finds the key
// with the same ID, and vice versa.
func (s *PKCS11Signer) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return nil
	}

	keyLabel, keyID := s.keyLabel, s.keyID
	if keyLabel == "" && keyID == nil {
		if s.certID != nil {
			keyID = s.certID
		} else if s.certLabel != "" {
			keyLabel = s.certLabel
		}
	}

	certLabel, certID := s.certLabel, s.certID
	if s.signingCert == nil && certLabel == "" && certID == nil {
		if keyID != nil {
			certID = keyID
		} else if keyLabel != "" {
			certLabel = keyLabel
		}
	}

	if s.signingCert == nil {
		cert, err := s.pullCertificate(certLabel, certID)
		if err != nil {
			return fmt.Errorf("loading certificate: %w", err)
		}
		s.signingCert = cert
	}

	handle, err := s.pullKeyHandle(keyLabel, keyID)
	if err != nil {
		return fmt.Errorf("loading key: %w", err)
	}
	s.keyHandle = handle
	s.loaded = true
	return nil
}

func (s *PKCS11Signer) pullCertificate(label string, id []byte) (*x509.Certificate, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE),
	}
	if label != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, label))
	}
	if id != nil {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, id))
	}

	objs, err := s.findObjects(template)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("%w: label=%q id=%s", ErrPKCS11NoCert, label, hex.EncodeToString(id))
	}
	if len(objs) > 1 {
		return nil, fmt.Errorf("%w: label=%q id=%s", ErrPKCS11MultipleCerts, label, hex.EncodeToString(id))
	}

	attrs, err := s.session.ctx.GetAttributeValue(s.session.session, objs[0], []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("reading certificate value: %w", err)
	}
	if len(attrs) == 0 || len(attrs[0].Value) == 0 {
		return nil, errors.New("certificate object has no value")
	}
	return x509.ParseCertificate(attrs[0].Value)
}

func (s *PKCS11Signer) pullKeyHandle(label string, id []byte) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
	}
	if label != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, label))
	}
	if id != nil {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, id))
	}

	objs, err := s.findObjects(template)
	if err != nil {
		return 0, err
	}
	if len(objs) == 0 {
		return 0, fmt.Errorf("%w: label=%q id=%s", ErrPKCS11NoKey, label, hex.EncodeToString(id))
	}
	if len(objs) > 1 {
		return 0, fmt.Errorf("%w: label=%q id=%s", ErrPKCS11MultipleKeys, label, hex.EncodeToString(id))
	}
	return objs[0], nil
}

// PullAllCertificates reads every certificate stored on the token, used to
// assemble the embedded chain.
func (s *PKCS11Signer) PullAllCertificates() ([]*x509.Certificate, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE),
	}
	objs, err := s.findObjects(template)
	if err != nil {
		return nil, err
	}

	var certs []*x509.Certificate
	for _, obj := range objs {
		attrs, err := s.session.ctx.GetAttributeValue(s.session.session, obj, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
		})
		if err != nil || len(attrs) == 0 || len(attrs[0].Value) == 0 {
			continue
		}
		cert, err := x509.ParseCertificate(attrs[0].Value)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func (s *PKCS11Signer) findObjects(template []*pkcs11.Attribute) ([]pkcs11.ObjectHandle, error) {
	if err := s.session.ctx.FindObjectsInit(s.session.session, template); err != nil {
		return nil, fmt.Errorf("FindObjectsInit: %w", err)
	}
	defer s.session.ctx.FindObjectsFinal(s.session.session)

	var all []pkcs11.ObjectHandle
	for {
		objs, _, err := s.session.ctx.FindObjects(s.session.session, 16)
		if err != nil {
			return nil, fmt.Errorf("FindObjects: %w", err)
		}
		if len(objs) == 0 {
			return all, nil
		}
		all = append(all, objs...)
	}
}

// Sign implements Signer. The token signs the CMS signed attributes; the
// surrounding SignedData is assembled locally with the precomputed
// signature.
func (s *PKCS11Signer) Sign(data []byte) ([]byte, error) {
	if err := s.Load(); err != nil {
		return nil, err
	}

	alg, err := s.algorithm()
	if err != nil {
		return nil, err
	}

	builder := cms.NewBuilder(s.signingCert, nil, alg)
	builder.SetCertificateChain(s.certChain)

	_, attrBytes, err := builder.SignedAttributesForSigning(data)
	if err != nil {
		return nil, err
	}

	signature, err := s.signRaw(attrBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPKCS11SignFailed, err)
	}

	builder.SetPrecomputedSignature(signature)
	return builder.Sign(data)
}

// signRaw runs the token signature over payload, picking the mechanism from
// the certificate's key type.
func (s *PKCS11Signer) signRaw(payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mech, input, encode, err := s.signingMechanism(payload)
	if err != nil {
		return nil, err
	}

	if err := s.session.ctx.SignInit(s.session.session, []*pkcs11.Mechanism{mech}, s.keyHandle); err != nil {
		return nil, fmt.Errorf("SignInit: %w", err)
	}
	signature, err := s.session.ctx.Sign(s.session.session, input)
	if err != nil {
		return nil, fmt.Errorf("Sign: %w", err)
	}
	if encode != nil {
		return encode(signature)
	}
	return signature, nil
}

// signingMechanism selects the PKCS#11 mechanism, the payload handed to the
// token (full data or a local digest) and any post-processing of the raw
// signature.
func (s *PKCS11Signer) signingMechanism(payload []byte) (*pkcs11.Mechanism, []byte, func([]byte) ([]byte, error), error) {
	switch s.signingCert.PublicKeyAlgorithm {
	case x509.RSA:
		if s.rawMech {
			digest := sha256.Sum256(payload)
			wrapped, err := wrapDigestInfo(digest[:])
			if err != nil {
				return nil, nil, nil, err
			}
			return pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil), wrapped, nil, nil
		}
		return pkcs11.NewMechanism(pkcs11.CKM_SHA256_RSA_PKCS, nil), payload, nil, nil
	case x509.ECDSA:
		if s.rawMech {
			digest := sha256.Sum256(payload)
			return pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil), digest[:], encodeECDSASignature, nil
		}
		return pkcs11.NewMechanism(pkcs11.CKM_ECDSA_SHA256, nil), payload, encodeECDSASignature, nil
	default:
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrPKCS11UnsupportedAlg, s.signingCert.PublicKeyAlgorithm)
	}
}

func (s *PKCS11Signer) algorithm() (cms.SignatureAlgorithm, error) {
	switch s.signingCert.PublicKeyAlgorithm {
	case x509.RSA:
		return cms.SHA256WithRSA, nil
	case x509.ECDSA:
		return cms.SHA256WithECDSA, nil
	default:
		return cms.SignatureAlgorithm{}, fmt.Errorf("%w: %s", ErrPKCS11UnsupportedAlg, s.signingCert.PublicKeyAlgorithm)
	}
}

// GetCertificate implements Signer.
func (s *PKCS11Signer) GetCertificate() *x509.Certificate {
	return s.signingCert
}

// GetCertificateChain implements Signer.
func (s *PKCS11Signer) GetCertificateChain() []*x509.Certificate {
	return s.certChain
}

// EstimateSize implements Signer.
func (s *PKCS11Signer) EstimateSize() int {
	return estimateSignatureSize(s.signingCert, s.certChain)
}

// NewPKCS11SignerFromConfig opens the configured token and resolves the
// signing material. Close the returned signer when done.
func NewPKCS11SignerFromConfig(cfg *config.PKCS11Config) (*PKCS11Signer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	certID, err := cfg.CertIDBytes()
	if err != nil {
		return nil, err
	}
	keyID, err := cfg.KeyIDBytes()
	if err != nil {
		return nil, err
	}

	session, err := OpenPKCS11Session(cfg.ModulePath, cfg.SlotNo, cfg.Token, cfg.UserPIN, cfg.DeferPIN)
	if err != nil {
		return nil, err
	}

	signer := NewPKCS11Signer(session).
		WithCertLabel(cfg.CertLabel).
		WithCertID(certID).
		WithKeyLabel(cfg.KeyLabel).
		WithKeyID(keyID).
		WithRawMechanism(cfg.RawMechanism)

	if err := signer.Load(); err != nil {
		session.Close()
		return nil, err
	}

	// Embed whatever else the token stores so chains validate offline.
	if certs, err := signer.PullAllCertificates(); err == nil {
		var chain []*x509.Certificate
		for _, cert := range certs {
			if !cert.Equal(signer.signingCert) {
				chain = append(chain, cert)
			}
		}
		signer.WithCertificateChain(chain)
	}

	return signer, nil
}

// Close releases the token session behind the signer.
func (s *PKCS11Signer) Close() error {
	if s.session == nil {
		return nil
	}
	return s.session.Close()
}

// wrapDigestInfo wraps a SHA-256 digest in the PKCS#1 DigestInfo structure
// the raw CKM_RSA_PKCS mechanism expects.
func wrapDigestInfo(digest []byte) ([]byte, error) {
	type algorithmIdentifier struct {
		Algorithm  asn1.ObjectIdentifier
		Parameters asn1.RawValue `asn1:"optional"`
	}
	type digestInfo struct {
		DigestAlgorithm algorithmIdentifier
		Digest          []byte
	}
	return asn1.Marshal(digestInfo{
		DigestAlgorithm: algorithmIdentifier{
			Algorithm:  asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1},
			Parameters: asn1.RawValue{Tag: 5},
		},
		Digest: digest,
	})
}

// encodeECDSASignature re-encodes the token's fixed-width r||s output as
// the ASN.1 SEQUENCE CMS expects.
func encodeECDSASignature(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("invalid ECDSA signature length %d", len(raw))
	}
	half := len(raw) / 2
	sig := struct {
		R, S *big.Int
	}{
		R: new(big.Int).SetBytes(raw[:half]),
		S: new(big.Int).SetBytes(raw[half:]),
	}
	return asn1.Marshal(sig)
}

var _ Signer = (*PKCS11Signer)(nil)
var _ Signer = (*SimpleSigner)(nil)
var _ Signer = (*ExternalSigner)(nil)
