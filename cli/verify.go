package cli

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pdforge/pdforge/keys"
	"github.com/pdforge/pdforge/pdf/reader"
	"github.com/pdforge/pdforge/sign/batch"
	"github.com/pdforge/pdforge/sign/validation"
)

// VerifyOptions contains options for the verify command.
type VerifyOptions struct {
	Config    string
	RootsFile string
	FieldName string
	JSON      bool
}

// VerifyCommand implements the 'verify' command.
func VerifyCommand(args []string) {
	verifyFlags := flag.NewFlagSet("verify", flag.ExitOnError)

	var opts VerifyOptions

	verifyFlags.StringVar(&opts.Config, "config", "", "YAML configuration file")
	verifyFlags.StringVar(&opts.RootsFile, "roots", "", "Trusted root certificates (PEM format); enables chain verification")
	verifyFlags.StringVar(&opts.FieldName, "field", "", "Verify a single named signature field")
	verifyFlags.BoolVar(&opts.JSON, "json", false, "Output results in JSON format")

	verifyFlags.Usage = func() {
		fmt.Printf("Usage: %s verify [options] <input.pdf> [input2.pdf ...]\n\n", os.Args[0])
		fmt.Println("Verify the digital signature(s) of PDF files. Verification runs")
		fmt.Println("offline: revocation is judged from material archived inside the")
		fmt.Println("signatures, and chains are only checked against -roots.")
		fmt.Println("")
		fmt.Println("Options:")
		verifyFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s verify document.pdf\n", os.Args[0])
		fmt.Printf("  %s verify -json document.pdf\n", os.Args[0])
		fmt.Printf("  %s verify -roots trusted-cas.pem document.pdf\n", os.Args[0])
		fmt.Printf("  %s verify -field Signature2 document.pdf\n", os.Args[0])
	}

	if err := verifyFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(exitUsage)
	}

	if verifyFlags.NArg() < 1 {
		verifyFlags.Usage()
		osExit(exitUsage)
	}

	if err := runVerify(verifyFlags.Args(), &opts); err != nil {
		fail(err)
	}
}

// runVerify verifies every input file and prints the reports. A non-nil
// return means at least one file could not be verified or carries an
// invalid signature.
func runVerify(files []string, opts *VerifyOptions) error {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}

	vopts := validation.Options{}
	if opts.RootsFile != "" {
		roots, err := keys.LoadCertsFromPemDer(opts.RootsFile)
		if err != nil {
			return fmt.Errorf("failed to load trusted roots: %w", err)
		}
		pool := x509.NewCertPool()
		for _, root := range roots {
			pool.AddCert(root)
		}
		vopts.Roots = pool
	}

	var results []batch.Result
	if opts.FieldName != "" {
		if len(files) != 1 {
			return errors.New("-field applies to a single input")
		}
		results = []batch.Result{verifyField(files[0], opts.FieldName, vopts)}
	} else {
		results = batch.NewProcessor(cfg.Batch).Verify(context.Background(), files, vopts)
	}

	reports := buildReports(results)
	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
	} else {
		writeReports(os.Stdout, reports)
	}

	bad := 0
	for _, rep := range reports {
		if rep.Error != "" {
			bad++
			continue
		}
		for _, sig := range rep.Signatures {
			if sig.Status != validation.StatusValid.String() {
				bad++
				break
			}
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d files failed verification", bad, len(reports))
	}
	return nil
}

// verifyField verifies one named field of one file.
func verifyField(path, fieldName string, vopts validation.Options) batch.Result {
	res := batch.Result{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		res.Err = err
		return res
	}
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		res.Err = err
		return res
	}
	fieldRes, err := validation.VerifyField(r, fieldName, vopts)
	if err != nil {
		res.Err = err
		return res
	}
	res.Signatures = []validation.Result{fieldRes}
	return res
}

// FileReport is the verification output for one file.
type FileReport struct {
	File       string             `json:"file"`
	Error      string             `json:"error,omitempty"`
	Signatures []*SignatureReport `json:"signatures,omitempty"`
}

// SignatureReport is a JSON-serializable verification result for a single
// signature.
type SignatureReport struct {
	SignatureIndex int               `json:"signature_index"`
	FieldName      string            `json:"field_name,omitempty"`
	Status         string            `json:"status"`
	Reason         string            `json:"reason,omitempty"`
	Detail         string            `json:"detail,omitempty"`
	SignerName     string            `json:"signer_name,omitempty"`
	SigningTime    string            `json:"signing_time,omitempty"`
	Coverage       string            `json:"coverage,omitempty"`
	SubFilter      string            `json:"sub_filter,omitempty"`
	DeclaredReason string            `json:"declared_reason,omitempty"`
	Location       string            `json:"location,omitempty"`
	Certificate    *CertificateInfo  `json:"certificate,omitempty"`
	Revocation     []RevocationEntry `json:"revocation,omitempty"`
}

// CertificateInfo contains certificate information for JSON output.
type CertificateInfo struct {
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	Serial    string `json:"serial"`
	NotBefore string `json:"not_before"`
	NotAfter  string `json:"not_after"`
}

// RevocationEntry is one piece of revocation material archived in the
// signature.
type RevocationEntry struct {
	Source    string `json:"source"`
	Status    string `json:"status"`
	Serial    string `json:"serial,omitempty"`
	RevokedAt string `json:"revoked_at,omitempty"`
	Stale     bool   `json:"stale,omitempty"`
}

// buildReports converts per-file verification results into serializable
// reports.
func buildReports(results []batch.Result) []*FileReport {
	reports := make([]*FileReport, 0, len(results))
	for _, res := range results {
		rep := &FileReport{File: res.Path}
		if res.Err != nil {
			rep.Error = res.Err.Error()
			reports = append(reports, rep)
			continue
		}
		for i, sig := range res.Signatures {
			rep.Signatures = append(rep.Signatures, signatureReport(i+1, sig))
		}
		reports = append(reports, rep)
	}
	return reports
}

func signatureReport(index int, sig validation.Result) *SignatureReport {
	rep := &SignatureReport{
		SignatureIndex: index,
		FieldName:      sig.FieldName,
		Status:         sig.Status.String(),
		SignerName:     sig.SignerName,
		Coverage:       sig.Coverage.String(),
		SubFilter:      sig.SubFilter,
		DeclaredReason: sig.DeclaredReason,
		Location:       sig.DeclaredLocation,
		Detail:         sig.Detail,
	}
	if sig.Reason != validation.ReasonNone {
		rep.Reason = sig.Reason.String()
	}
	if !sig.SigningTime.IsZero() {
		rep.SigningTime = sig.SigningTime.Format(time.RFC3339)
	}
	if cert := sig.Certificate; cert != nil {
		rep.Certificate = &CertificateInfo{
			Subject:   cert.Subject.String(),
			Issuer:    cert.Issuer.String(),
			Serial:    cert.SerialNumber.String(),
			NotBefore: cert.NotBefore.Format(time.RFC3339),
			NotAfter:  cert.NotAfter.Format(time.RFC3339),
		}
	}
	for _, rev := range sig.Revocation {
		entry := RevocationEntry{
			Source: rev.Source,
			Status: rev.Status,
			Stale:  rev.Stale,
		}
		if rev.Serial != nil {
			entry.Serial = rev.Serial.String()
		}
		if !rev.RevokedAt.IsZero() {
			entry.RevokedAt = rev.RevokedAt.Format(time.RFC3339)
		}
		rep.Revocation = append(rep.Revocation, entry)
	}
	return rep
}

// writeReports prints the reports in human-readable text format.
func writeReports(w io.Writer, reports []*FileReport) {
	for _, rep := range reports {
		if rep.Error != "" {
			fmt.Fprintf(w, "%s: %s\n", rep.File, rep.Error)
			continue
		}
		fmt.Fprintf(w, "%s: %d signature(s)\n", rep.File, len(rep.Signatures))

		for _, sig := range rep.Signatures {
			fmt.Fprintf(w, "\nSignature #%d\n", sig.SignatureIndex)
			fmt.Fprintf(w, "  Status: %s %s\n", statusIcon(sig.Status), sig.Status)
			if sig.Reason != "" {
				fmt.Fprintf(w, "  Reason: %s\n", sig.Reason)
			}
			if sig.Detail != "" {
				fmt.Fprintf(w, "  Detail: %s\n", sig.Detail)
			}
			if sig.FieldName != "" {
				fmt.Fprintf(w, "  Field: %s\n", sig.FieldName)
			}
			if sig.SignerName != "" {
				fmt.Fprintf(w, "  Signer: %s\n", sig.SignerName)
			}
			if sig.SigningTime != "" {
				fmt.Fprintf(w, "  Signing Time: %s\n", sig.SigningTime)
			}
			if sig.Coverage != "" {
				fmt.Fprintf(w, "  Coverage: %s\n", sig.Coverage)
			}
			if sig.DeclaredReason != "" {
				fmt.Fprintf(w, "  Declared Reason: %s\n", sig.DeclaredReason)
			}
			if sig.Location != "" {
				fmt.Fprintf(w, "  Location: %s\n", sig.Location)
			}
			if cert := sig.Certificate; cert != nil {
				fmt.Fprintf(w, "  Certificate: %s (serial %s)\n", cert.Subject, cert.Serial)
				fmt.Fprintf(w, "    Valid: %s to %s\n", cert.NotBefore, cert.NotAfter)
			}
			for _, rev := range sig.Revocation {
				line := fmt.Sprintf("  Revocation [%s]: %s", rev.Source, rev.Status)
				if rev.RevokedAt != "" {
					line += " at " + rev.RevokedAt
				}
				if rev.Stale {
					line += " (stale)"
				}
				fmt.Fprintln(w, line)
			}
		}
		fmt.Fprintln(w)
	}
}

// statusIcon returns an icon for the status.
func statusIcon(status string) string {
	switch status {
	case "VALID":
		return "[OK]"
	case "INVALID":
		return "[FAIL]"
	default:
		return "[?]"
	}
}
