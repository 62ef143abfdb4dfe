// Package cms builds and verifies the detached CMS SignedData structures
// (RFC 5652) embedded in PDF signature dictionaries.
package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"hash"
	"math/big"
	"sort"
	"time"
)

// OIDs for CMS content types, digest and signature algorithms, and the
// signed attributes this package emits.
var (
	OIDData       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}

	OIDRSAEncryption   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSHA384WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSHA512WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}

	OIDContentType          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigest        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDSigningTime          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	OIDSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}

	// Adobe's revocation-info-archival attribute; Acrobat stores OCSP
	// responses and CRLs here so signatures validate offline.
	OIDAdobeRevocationInfoArchival = asn1.ObjectIdentifier{1, 2, 840, 113583, 1, 1, 8}
)

// Common errors
var (
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrMissingCertificate   = errors.New("missing certificate")
	ErrDigestMismatch       = errors.New("message digest mismatch")
	ErrMalformed            = errors.New("malformed CMS structure")
)

// AlgorithmIdentifier represents an X.509 algorithm identifier.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// ContentInfo is the outermost CMS wrapper.
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// SignedData represents a CMS SignedData structure.
type SignedData struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"optional,implicit,tag:1"`
	SignerInfos      []SignerInfo    `asn1:"set"`
}

// EncapsulatedContentInfo carries the signed content; detached signatures
// leave EContent empty.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// SignerInfo represents a signer's information. SID is IssuerAndSerialNumber
// directly (not wrapped) because SignerIdentifier is an ASN.1 CHOICE.
type SignerInfo struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        []Attribute `asn1:"optional,implicit,tag:0,set"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      []Attribute `asn1:"optional,implicit,tag:1,set"`
}

// rawSignerInfo captures the signed attributes as raw bytes so verification
// can reconstruct exactly what was signed.
type rawSignerInfo struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

// rawSignedData defers SignerInfo parsing to rawSignerInfo.
type rawSignedData struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"optional,implicit,tag:1"`
	SignerInfos      []asn1.RawValue `asn1:"set"`
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute represents a CMS attribute.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// RevocationInfoArchival is the value of the Adobe revocation-info-archival
// attribute: DER OCSP responses and CRLs frozen at signing time.
type RevocationInfoArchival struct {
	CRLs         []asn1.RawValue `asn1:"optional,explicit,tag:0"`
	OCSPs        []asn1.RawValue `asn1:"optional,explicit,tag:1"`
	OtherRevInfo []asn1.RawValue `asn1:"optional,explicit,tag:2"`
}

// SigningCertificateV2 is the ESS signing-certificate-v2 attribute value.
type SigningCertificateV2 struct {
	Certs []ESSCertIDv2
}

// ESSCertIDv2 pins the signing certificate by hash.
type ESSCertIDv2 struct {
	HashAlgorithm AlgorithmIdentifier `asn1:"optional"`
	CertHash      []byte
	IssuerSerial  IssuerSerial `asn1:"optional"`
}

// IssuerSerial identifies a certificate by issuer name and serial.
type IssuerSerial struct {
	Issuer       GeneralNames
	SerialNumber *big.Int
}

// GeneralNames represents a sequence of GeneralName.
type GeneralNames struct {
	Names []asn1.RawValue
}

// SignatureAlgorithm pairs a digest algorithm with its signature algorithm.
type SignatureAlgorithm struct {
	DigestAlgorithm    asn1.ObjectIdentifier
	SignatureAlgorithm asn1.ObjectIdentifier
	Hash               crypto.Hash
}

// Supported signature algorithms.
var (
	SHA256WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDSHA256WithRSA,
		Hash:               crypto.SHA256,
	}
	SHA384WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA384,
		SignatureAlgorithm: OIDSHA384WithRSA,
		Hash:               crypto.SHA384,
	}
	SHA512WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA512,
		SignatureAlgorithm: OIDSHA512WithRSA,
		Hash:               crypto.SHA512,
	}
	SHA256WithECDSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDECDSAWithSHA256,
		Hash:               crypto.SHA256,
	}
	SHA384WithECDSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA384,
		SignatureAlgorithm: OIDECDSAWithSHA384,
		Hash:               crypto.SHA384,
	}
	SHA512WithECDSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA512,
		SignatureAlgorithm: OIDECDSAWithSHA512,
		Hash:               crypto.SHA512,
	}
)

// AlgorithmFor picks the signature algorithm matching the key type, SHA-256
// digest in both cases.
func AlgorithmFor(key crypto.Signer) (SignatureAlgorithm, error) {
	switch key.Public().(type) {
	case *rsa.PublicKey:
		return SHA256WithRSA, nil
	case *ecdsa.PublicKey:
		return SHA256WithECDSA, nil
	default:
		return SignatureAlgorithm{}, fmt.Errorf("%w: key type %T", ErrUnsupportedAlgorithm, key.Public())
	}
}

// Builder assembles detached CMS signatures.
type Builder struct {
	Certificate *x509.Certificate
	CertChain   []*x509.Certificate
	PrivateKey  crypto.Signer
	Algorithm   SignatureAlgorithm
	SigningTime time.Time

	// PrecomputedSignature replaces local signing when set; used when the
	// raw signature comes from a hardware token or remote service.
	PrecomputedSignature []byte

	revocationCRLs  [][]byte
	revocationOCSPs [][]byte
}

// NewBuilder creates a Builder signing with key under cert.
func NewBuilder(cert *x509.Certificate, key crypto.Signer, alg SignatureAlgorithm) *Builder {
	return &Builder{
		Certificate: cert,
		PrivateKey:  key,
		Algorithm:   alg,
		SigningTime: time.Now().UTC(),
	}
}

// SetCertificateChain sets the certificate chain embedded after the signer
// certificate.
func (b *Builder) SetCertificateChain(chain []*x509.Certificate) {
	b.CertChain = chain
}

// SetSigningTime sets the signed signing-time attribute.
func (b *Builder) SetSigningTime(t time.Time) {
	b.SigningTime = t.UTC()
}

// SetPrecomputedSignature installs a signature computed elsewhere over the
// signed attributes digest.
func (b *Builder) SetPrecomputedSignature(sig []byte) {
	b.PrecomputedSignature = sig
}

// SetRevocationInfo archives DER CRLs and OCSP responses in the signed
// attributes (Adobe revocation-info-archival), letting verifiers check
// revocation without network access.
func (b *Builder) SetRevocationInfo(crls, ocsps [][]byte) {
	b.revocationCRLs = crls
	b.revocationOCSPs = ocsps
}

// SignedAttributesForSigning returns the signed attributes for data along
// with the DER SET bytes whose digest the signature must cover.
func (b *Builder) SignedAttributesForSigning(data []byte) ([]Attribute, []byte, error) {
	h := b.newHash()
	h.Write(data)
	messageDigest := h.Sum(nil)

	attrs, err := b.buildSignedAttributes(messageDigest)
	if err != nil {
		return nil, nil, fmt.Errorf("building signed attributes: %w", err)
	}
	attrs = sortAttributesDER(attrs)

	attrBytes, err := asn1.Marshal(attrs)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling signed attributes: %w", err)
	}
	// A slice marshals as SEQUENCE OF; the signature covers the SET form.
	attrBytes[0] = 0x31

	return attrs, attrBytes, nil
}

// Sign creates a detached CMS signature over data.
func (b *Builder) Sign(data []byte) ([]byte, error) {
	attrs, attrBytes, err := b.SignedAttributesForSigning(data)
	if err != nil {
		return nil, err
	}

	h := b.newHash()
	h.Write(attrBytes)
	attrDigest := h.Sum(nil)

	signature := b.PrecomputedSignature
	if signature == nil {
		signature, err = b.signDigest(attrDigest)
		if err != nil {
			return nil, fmt.Errorf("signing digest: %w", err)
		}
	}

	signerInfo := SignerInfo{
		Version: 1,
		SID: IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: b.Certificate.RawIssuer},
			SerialNumber: b.Certificate.SerialNumber,
		},
		DigestAlgorithm: AlgorithmIdentifier{
			Algorithm:  b.Algorithm.DigestAlgorithm,
			Parameters: asn1.RawValue{Tag: 5}, // NULL
		},
		SignedAttrs: attrs,
		SignatureAlgorithm: AlgorithmIdentifier{
			Algorithm:  b.Algorithm.SignatureAlgorithm,
			Parameters: signatureAlgorithmParameters(b.Algorithm.SignatureAlgorithm),
		},
		Signature: signature,
	}

	signedData := SignedData{
		Version: 1,
		DigestAlgorithms: []AlgorithmIdentifier{
			{
				Algorithm:  b.Algorithm.DigestAlgorithm,
				Parameters: asn1.RawValue{Tag: 5},
			},
		},
		// Detached: EContent stays empty.
		EncapContentInfo: EncapsulatedContentInfo{
			EContentType: OIDData,
		},
		SignerInfos: []SignerInfo{signerInfo},
	}

	signedData.Certificates = append(signedData.Certificates,
		asn1.RawValue{FullBytes: b.Certificate.Raw})
	for _, cert := range b.CertChain {
		signedData.Certificates = append(signedData.Certificates,
			asn1.RawValue{FullBytes: cert.Raw})
	}

	signedDataBytes, err := asn1.Marshal(signedData)
	if err != nil {
		return nil, fmt.Errorf("marshaling signed data: %w", err)
	}

	contentInfo := ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: 2, Tag: 0, IsCompound: true, Bytes: signedDataBytes},
	}
	return asn1.Marshal(contentInfo)
}

// RSA PKCS#1 v1.5 identifiers carry an explicit NULL; ECDSA omits the
// parameters entirely.
func signatureAlgorithmParameters(oid asn1.ObjectIdentifier) asn1.RawValue {
	switch {
	case oid.Equal(OIDSHA256WithRSA),
		oid.Equal(OIDSHA384WithRSA),
		oid.Equal(OIDSHA512WithRSA),
		oid.Equal(OIDRSAEncryption):
		return asn1.RawValue{Tag: 5}
	default:
		return asn1.RawValue{}
	}
}

func (b *Builder) buildSignedAttributes(messageDigest []byte) ([]Attribute, error) {
	var attrs []Attribute

	contentTypeValue, _ := asn1.Marshal(OIDData)
	attrs = append(attrs, Attribute{
		Type:   OIDContentType,
		Values: []asn1.RawValue{{FullBytes: contentTypeValue}},
	})

	digestValue, _ := asn1.Marshal(messageDigest)
	attrs = append(attrs, Attribute{
		Type:   OIDMessageDigest,
		Values: []asn1.RawValue{{FullBytes: digestValue}},
	})

	signingTimeValue, _ := asn1.Marshal(b.SigningTime)
	attrs = append(attrs, Attribute{
		Type:   OIDSigningTime,
		Values: []asn1.RawValue{{FullBytes: signingTimeValue}},
	})

	// ESS signing-certificate-v2 pins the certificate the signature was
	// made with.
	h := b.newHash()
	h.Write(b.Certificate.Raw)
	signingCert := SigningCertificateV2{
		Certs: []ESSCertIDv2{
			{
				HashAlgorithm: AlgorithmIdentifier{
					Algorithm:  b.Algorithm.DigestAlgorithm,
					Parameters: asn1.RawValue{Tag: 5},
				},
				CertHash: h.Sum(nil),
				IssuerSerial: IssuerSerial{
					Issuer: GeneralNames{
						Names: []asn1.RawValue{
							{
								Class:      asn1.ClassContextSpecific,
								Tag:        4, // directoryName
								IsCompound: true,
								Bytes:      b.Certificate.RawIssuer,
							},
						},
					},
					SerialNumber: b.Certificate.SerialNumber,
				},
			},
		},
	}
	signingCertValue, _ := asn1.Marshal(signingCert)
	attrs = append(attrs, Attribute{
		Type:   OIDSigningCertificateV2,
		Values: []asn1.RawValue{{FullBytes: signingCertValue}},
	})

	if len(b.revocationCRLs) > 0 || len(b.revocationOCSPs) > 0 {
		var archival RevocationInfoArchival
		for _, der := range b.revocationCRLs {
			archival.CRLs = append(archival.CRLs, asn1.RawValue{FullBytes: der})
		}
		for _, der := range b.revocationOCSPs {
			archival.OCSPs = append(archival.OCSPs, asn1.RawValue{FullBytes: der})
		}
		archivalValue, err := asn1.Marshal(archival)
		if err != nil {
			return nil, fmt.Errorf("marshaling revocation info: %w", err)
		}
		attrs = append(attrs, Attribute{
			Type:   OIDAdobeRevocationInfoArchival,
			Values: []asn1.RawValue{{FullBytes: archivalValue}},
		})
	}

	return attrs, nil
}

func (b *Builder) newHash() hash.Hash {
	switch b.Algorithm.Hash {
	case crypto.SHA384:
		return sha512.New384()
	case crypto.SHA512:
		return sha512.New()
	default:
		return sha256.New()
	}
}

func (b *Builder) signDigest(digest []byte) ([]byte, error) {
	switch key := b.PrivateKey.(type) {
	case *rsa.PrivateKey:
		return rsa.SignPKCS1v15(rand.Reader, key, b.Algorithm.Hash, digest)
	default:
		// crypto.Signer covers ECDSA (ASN.1 r/s) and opaque keys alike.
		return b.PrivateKey.Sign(rand.Reader, digest, b.Algorithm.Hash)
	}
}

// Parse decodes a CMS SignedData structure.
func Parse(data []byte) (*SignedData, error) {
	var contentInfo ContentInfo
	if _, err := asn1.Unmarshal(data, &contentInfo); err != nil {
		return nil, fmt.Errorf("%w: parsing ContentInfo: %v", ErrMalformed, err)
	}
	if !contentInfo.ContentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("%w: content type %v is not SignedData", ErrMalformed, contentInfo.ContentType)
	}

	var signedData SignedData
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &signedData); err != nil {
		return nil, fmt.Errorf("%w: parsing SignedData: %v", ErrMalformed, err)
	}
	return &signedData, nil
}

// Verify checks a detached CMS signature against the content it claims to
// cover: the message digest attribute must match the content hash, and the
// signature over the attributes must verify with the embedded certificate.
func Verify(cmsData, signedContent []byte) error {
	signerInfo, certs, err := parseRaw(cmsData)
	if err != nil {
		return err
	}

	signerCert := findSignerCertificate(signerInfo, certs)
	if signerCert == nil {
		return ErrMissingCertificate
	}

	h, err := hashByOID(signerInfo.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}
	h.Write(signedContent)
	contentDigest := h.Sum(nil)

	attrs, err := parseAttributes(signerInfo.SignedAttrs.Bytes)
	if err != nil {
		return err
	}

	hashType := hashTypeByOID(signerInfo.DigestAlgorithm.Algorithm)

	// Without signed attributes the signature covers the content digest
	// directly.
	if len(attrs) == 0 {
		if err := verifyWithKey(signerCert.PublicKey, hashType, contentDigest, signerInfo.Signature); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil
	}

	var messageDigest []byte
	for _, attr := range attrs {
		if attr.Type.Equal(OIDMessageDigest) && len(attr.Values) > 0 {
			if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &messageDigest); err == nil {
				break
			}
		}
	}
	if messageDigest == nil {
		return fmt.Errorf("%w: no message digest attribute", ErrMalformed)
	}
	if !bytes.Equal(contentDigest, messageDigest) {
		return ErrDigestMismatch
	}

	// Reconstruct the SET form the signature was computed over.
	attrBytes, err := asn1.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("%w: re-encoding signed attributes: %v", ErrMalformed, err)
	}
	attrBytes[0] = 0x31

	h, _ = hashByOID(signerInfo.DigestAlgorithm.Algorithm)
	h.Write(attrBytes)
	attrDigest := h.Sum(nil)

	if err := verifyWithKey(signerCert.PublicKey, hashType, attrDigest, signerInfo.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// parseRaw unwraps the first SignerInfo with its signed attribute bytes
// intact, plus the embedded certificates.
func parseRaw(cmsData []byte) (*rawSignerInfo, []asn1.RawValue, error) {
	var contentInfo ContentInfo
	if _, err := asn1.Unmarshal(cmsData, &contentInfo); err != nil {
		return nil, nil, fmt.Errorf("%w: parsing ContentInfo: %v", ErrMalformed, err)
	}
	if !contentInfo.ContentType.Equal(OIDSignedData) {
		return nil, nil, fmt.Errorf("%w: content type %v is not SignedData", ErrMalformed, contentInfo.ContentType)
	}

	var signedData rawSignedData
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &signedData); err != nil {
		return nil, nil, fmt.Errorf("%w: parsing SignedData: %v", ErrMalformed, err)
	}
	if len(signedData.SignerInfos) == 0 {
		return nil, nil, fmt.Errorf("%w: no signer infos", ErrMalformed)
	}

	var signerInfo rawSignerInfo
	if _, err := asn1.Unmarshal(signedData.SignerInfos[0].FullBytes, &signerInfo); err != nil {
		return nil, nil, fmt.Errorf("%w: parsing SignerInfo: %v", ErrMalformed, err)
	}
	return &signerInfo, signedData.Certificates, nil
}

func findSignerCertificate(signerInfo *rawSignerInfo, certs []asn1.RawValue) *x509.Certificate {
	for _, certRaw := range certs {
		cert, err := x509.ParseCertificate(certRaw.FullBytes)
		if err != nil {
			continue
		}
		if signerInfo.SID.SerialNumber != nil &&
			cert.SerialNumber.Cmp(signerInfo.SID.SerialNumber) == 0 {
			return cert
		}
	}
	return nil
}

// parseAttributes decodes the concatenated Attribute values inside the
// implicit [0] wrapper.
func parseAttributes(raw []byte) ([]Attribute, error) {
	var attrs []Attribute
	rest := raw
	for len(rest) > 0 {
		var attr Attribute
		var err error
		rest, err = asn1.Unmarshal(rest, &attr)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing signed attribute: %v", ErrMalformed, err)
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

func hashByOID(oid asn1.ObjectIdentifier) (hash.Hash, error) {
	switch {
	case oid.Equal(OIDSHA256):
		return sha256.New(), nil
	case oid.Equal(OIDSHA384):
		return sha512.New384(), nil
	case oid.Equal(OIDSHA512):
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, oid)
	}
}

func hashTypeByOID(oid asn1.ObjectIdentifier) crypto.Hash {
	switch {
	case oid.Equal(OIDSHA384):
		return crypto.SHA384
	case oid.Equal(OIDSHA512):
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

func verifyWithKey(pub any, hashType crypto.Hash, digest, sig []byte) error {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(key, hashType, digest, sig)
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, digest, sig) {
			return errors.New("ecdsa verification failed")
		}
		return nil
	default:
		return fmt.Errorf("%w: key type %T", ErrUnsupportedAlgorithm, pub)
	}
}

// sortAttributesDER orders attributes by their DER encoding, the SET OF
// order the signature digest is computed over.
func sortAttributesDER(attrs []Attribute) []Attribute {
	type attrDER struct {
		attr Attribute
		der  []byte
	}
	encoded := make([]attrDER, len(attrs))
	for i, attr := range attrs {
		der, _ := asn1.Marshal(attr)
		encoded[i] = attrDER{attr: attr, der: der}
	}
	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i].der, encoded[j].der) < 0
	})
	out := make([]Attribute, len(attrs))
	for i, e := range encoded {
		out[i] = e.attr
	}
	return out
}

// GetSignerCertificates extracts every certificate embedded in cmsData.
func GetSignerCertificates(cmsData []byte) ([]*x509.Certificate, error) {
	signedData, err := Parse(cmsData)
	if err != nil {
		return nil, err
	}
	var certs []*x509.Certificate
	for _, certRaw := range signedData.Certificates {
		cert, err := x509.ParseCertificate(certRaw.FullBytes)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// GetSigningTime extracts the signed signing-time attribute.
func GetSigningTime(cmsData []byte) (time.Time, error) {
	signedData, err := Parse(cmsData)
	if err != nil {
		return time.Time{}, err
	}
	if len(signedData.SignerInfos) == 0 {
		return time.Time{}, fmt.Errorf("%w: no signer infos", ErrMalformed)
	}
	for _, attr := range signedData.SignerInfos[0].SignedAttrs {
		if attr.Type.Equal(OIDSigningTime) && len(attr.Values) > 0 {
			var signingTime time.Time
			if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &signingTime); err == nil {
				return signingTime, nil
			}
		}
	}
	return time.Time{}, errors.New("signing time attribute not present")
}
