package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pdforge/pdforge/config"
	"github.com/pdforge/pdforge/keys"
	"github.com/pdforge/pdforge/sign/batch"
	"github.com/pdforge/pdforge/sign/signers"
)

// SignOptions contains options for the sign command.
type SignOptions struct {
	Config  string
	Profile string

	CertFile  string
	KeyFile   string
	KeyPass   string
	ChainFile string
	P12File   string
	P12Pass   string

	Name      string
	Location  string
	Reason    string
	Contact   string
	FieldName string
	Reserve   int

	Output    string
	OutputDir string
	Suffix    string
}

// SignCommand implements the 'sign' command.
func SignCommand(args []string) {
	signFlags := flag.NewFlagSet("sign", flag.ExitOnError)

	var opts SignOptions

	signFlags.StringVar(&opts.Config, "config", "", "YAML configuration file")
	signFlags.StringVar(&opts.Profile, "profile", "", "Signing profile from the configuration")
	signFlags.StringVar(&opts.CertFile, "cert", "", "Signing certificate (PEM or DER format)")
	signFlags.StringVar(&opts.KeyFile, "key", "", "Private key (PEM or DER format)")
	signFlags.StringVar(&opts.KeyPass, "key-pass", "", "Passphrase for an encrypted private key")
	signFlags.StringVar(&opts.ChainFile, "chain", "", "Certificate chain (PEM format)")
	signFlags.StringVar(&opts.P12File, "p12", "", "PKCS#12 bundle holding certificate and key")
	signFlags.StringVar(&opts.P12Pass, "p12-pass", "", "Passphrase for the PKCS#12 bundle")
	signFlags.StringVar(&opts.Name, "name", "", "Name of the signatory")
	signFlags.StringVar(&opts.Location, "location", "", "Location of the signatory")
	signFlags.StringVar(&opts.Reason, "reason", "", "Reason for signing")
	signFlags.StringVar(&opts.Contact, "contact", "", "Contact information for the signatory")
	signFlags.StringVar(&opts.FieldName, "field", "", "Signature field name (empty picks the next free Signature<n>)")
	signFlags.IntVar(&opts.Reserve, "reserve", 0, "Bytes reserved for the signature (0 sizes from the credentials)")
	signFlags.StringVar(&opts.Output, "out", "", "Output file (single input only)")
	signFlags.StringVar(&opts.OutputDir, "out-dir", "", "Directory for signed copies (default next to each input)")
	signFlags.StringVar(&opts.Suffix, "suffix", "", "Suffix for signed copies (default \"-signed\")")

	signFlags.Usage = func() {
		fmt.Printf("Usage: %s sign [options] <input.pdf> [input2.pdf ...]\n\n", os.Args[0])
		fmt.Println("Sign one or more PDF files with a digital signature.")
		fmt.Println("")
		fmt.Println("Credentials come from a configuration profile (-config/-profile),")
		fmt.Println("a PKCS#12 bundle (-p12) or a PEM/DER pair (-cert/-key).")
		fmt.Println("")
		fmt.Println("Options:")
		signFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s sign -cert cert.pem -key key.pem -out signed.pdf input.pdf\n", os.Args[0])
		fmt.Printf("  %s sign -p12 bundle.p12 -p12-pass secret -reason \"Approved\" input.pdf\n", os.Args[0])
		fmt.Printf("  %s sign -config pdforge.yaml -profile office a.pdf b.pdf c.pdf\n", os.Args[0])
	}

	if err := signFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(exitUsage)
	}

	if signFlags.NArg() < 1 {
		signFlags.Usage()
		osExit(exitUsage)
	}

	if opts.Output != "" && signFlags.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "-out applies to a single input; use -out-dir for batches")
		osExit(exitUsage)
	}

	if err := runSign(signFlags.Args(), &opts); err != nil {
		fail(err)
	}
}

// runSign resolves the credentials and signs every input file.
func runSign(files []string, opts *SignOptions) error {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}

	signer, profile, err := resolveSigner(cfg, opts)
	if err != nil {
		return err
	}
	if closer, ok := signer.(io.Closer); ok {
		defer closer.Close()
	}

	reason := opts.Reason
	location := opts.Location
	reserve := opts.Reserve
	if profile != nil {
		if reason == "" {
			reason = profile.Reason
		}
		if location == "" {
			location = profile.Location
		}
		if reserve == 0 {
			reserve = profile.ReserveSize
		}
	}
	if reserve > 0 {
		signer = fixedReserveSigner{Signer: signer, size: reserve}
	}

	session := signers.SessionOptions{
		FieldName:   opts.FieldName,
		ContactInfo: opts.Contact,
		SignerName:  opts.Name,
	}

	if opts.Output != "" {
		data, err := os.ReadFile(files[0])
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		signed, err := signers.SignDocument(data, signer, reason, location, session)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.Output, signed, 0o644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Printf("Signed %s -> %s\n", files[0], opts.Output)
		return nil
	}

	batchCfg := cfg.Batch
	if profile != nil && profile.Type == "pkcs11" {
		// Token sessions do not sign concurrently.
		batchCfg.Concurrency = 1
	}

	results := batch.NewProcessor(batchCfg).Sign(context.Background(), files, batch.SignOptions{
		Signer:    signer,
		Reason:    reason,
		Location:  location,
		Session:   session,
		OutputDir: opts.OutputDir,
		Suffix:    opts.Suffix,
	})

	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", res.Path, res.Err)
			continue
		}
		fmt.Printf("Signed %s -> %s\n", res.Path, res.OutputPath)
	}
	if n := batch.FailureCount(results); n > 0 {
		return fmt.Errorf("%d of %d files failed", n, len(results))
	}
	return nil
}

// resolveSigner builds the signer from an explicitly named profile, direct
// credential flags, or the configuration's default profile, in that order.
// The returned profile is nil when direct flags were used.
func resolveSigner(cfg *config.AppConfig, opts *SignOptions) (signers.Signer, *config.SigningProfile, error) {
	switch {
	case opts.Profile != "":
		return profileSigner(cfg, opts.Profile)

	case opts.P12File != "":
		cred, err := keys.LoadPKCS12File(opts.P12File, opts.P12Pass)
		if err != nil {
			return nil, nil, err
		}
		signer, err := signers.NewSimpleSigner(cred.Certificate, cred.PrivateKey)
		if err != nil {
			return nil, nil, err
		}
		signer.SetCertificateChain(cred.CACerts)
		return signer, nil, nil

	case opts.CertFile != "" && opts.KeyFile != "":
		var passphrase []byte
		if opts.KeyPass != "" {
			passphrase = []byte(opts.KeyPass)
		}
		cert, key, err := keys.LoadCertAndKeyFromPemDer(opts.CertFile, opts.KeyFile, passphrase)
		if err != nil {
			return nil, nil, err
		}
		signer, err := signers.NewSimpleSigner(cert, key)
		if err != nil {
			return nil, nil, err
		}
		if opts.ChainFile != "" {
			chain, err := keys.LoadCertsFromPemDer(opts.ChainFile)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to load certificate chain: %w", err)
			}
			signer.SetCertificateChain(chain)
		}
		return signer, nil, nil

	case cfg.Signing.DefaultProfile != "":
		return profileSigner(cfg, cfg.Signing.DefaultProfile)
	}

	return nil, nil, errors.New("no signing credentials: use -profile, -p12 or -cert and -key")
}

// profileSigner realizes the credentials named by a configuration profile.
func profileSigner(cfg *config.AppConfig, name string) (signers.Signer, *config.SigningProfile, error) {
	profile, ok := cfg.Signing.Profiles[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown signing profile %q", name)
	}

	if profile.Type == "pkcs11" {
		signer, err := signers.NewPKCS11SignerFromConfig(profile.PKCS11)
		if err != nil {
			return nil, nil, err
		}
		return signer, profile, nil
	}

	cred, err := profile.Load()
	if err != nil {
		return nil, nil, err
	}
	signer, err := signers.NewSimpleSigner(cred.Certificate, cred.PrivateKey)
	if err != nil {
		return nil, nil, err
	}
	signer.SetCertificateChain(cred.Chain)
	return signer, profile, nil
}

// fixedReserveSigner pins the /Contents reservation to a configured size.
type fixedReserveSigner struct {
	signers.Signer
	size int
}

func (s fixedReserveSigner) EstimateSize() int { return s.size }
