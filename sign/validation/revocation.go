package validation

import (
	"crypto/x509"
	"encoding/asn1"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/ocsp"

	"github.com/pdforge/pdforge/sign/cms"
)

// archivedRevocation collects the revocation material stored inside the
// signature: OCSP responses and CRLs from the archival attribute plus the
// SignedData CRL bucket. Entries that do not parse are skipped.
func archivedRevocation(parsed *cms.SignedData, clock clockwork.Clock) []RevocationInfo {
	var infos []RevocationInfo

	ocsps, crls := archivalAttribute(parsed)
	for _, der := range ocsps {
		if info, ok := parseOCSPResponse(der, clock); ok {
			infos = append(infos, info)
		}
	}
	for _, raw := range parsed.CRLs {
		crls = append(crls, raw.FullBytes)
	}
	for _, der := range crls {
		infos = append(infos, parseCRL(der, clock)...)
	}
	return infos
}

// archivalAttribute pulls the DER OCSP responses and CRLs out of the
// first signer's revocation-info-archival attribute.
func archivalAttribute(parsed *cms.SignedData) (ocsps, crls [][]byte) {
	if len(parsed.SignerInfos) == 0 {
		return nil, nil
	}
	for _, attr := range parsed.SignerInfos[0].SignedAttrs {
		if !attr.Type.Equal(cms.OIDAdobeRevocationInfoArchival) || len(attr.Values) == 0 {
			continue
		}
		var archival cms.RevocationInfoArchival
		if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &archival); err != nil {
			continue
		}
		for _, v := range archival.OCSPs {
			ocsps = append(ocsps, v.FullBytes)
		}
		for _, v := range archival.CRLs {
			crls = append(crls, v.FullBytes)
		}
	}
	return ocsps, crls
}

func parseOCSPResponse(der []byte, clock clockwork.Clock) (RevocationInfo, bool) {
	resp, err := ocsp.ParseResponse(der, nil)
	if err != nil {
		return RevocationInfo{}, false
	}
	info := RevocationInfo{
		Source:     "ocsp",
		Serial:     resp.SerialNumber,
		ThisUpdate: resp.ThisUpdate,
		NextUpdate: resp.NextUpdate,
		Stale:      !resp.NextUpdate.IsZero() && clock.Now().After(resp.NextUpdate),
	}
	switch resp.Status {
	case ocsp.Good:
		info.Status = "good"
	case ocsp.Revoked:
		info.Status = "revoked"
		info.RevokedAt = resp.RevokedAt
	default:
		info.Status = "unknown"
	}
	return info, true
}

func parseCRL(der []byte, clock clockwork.Clock) []RevocationInfo {
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil
	}
	stale := !crl.NextUpdate.IsZero() && clock.Now().After(crl.NextUpdate)
	infos := make([]RevocationInfo, 0, len(crl.RevokedCertificateEntries))
	for _, entry := range crl.RevokedCertificateEntries {
		infos = append(infos, RevocationInfo{
			Source:     "crl",
			Status:     "revoked",
			Serial:     entry.SerialNumber,
			ThisUpdate: crl.ThisUpdate,
			NextUpdate: crl.NextUpdate,
			RevokedAt:  entry.RevocationTime,
			Stale:      stale,
		})
	}
	return infos
}

// revokedAt reports the earliest revocation recorded for serial.
func revokedAt(infos []RevocationInfo, serial *big.Int) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, info := range infos {
		if info.Status != "revoked" || info.Serial == nil || serial == nil {
			continue
		}
		if info.Serial.Cmp(serial) != 0 {
			continue
		}
		if !found || info.RevokedAt.Before(earliest) {
			earliest = info.RevokedAt
			found = true
		}
	}
	return earliest, found
}
