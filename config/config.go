// Package config loads and validates the YAML application configuration:
// signing profiles, overlay styling defaults, batch limits and logging.
package config

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pdforge/pdforge/keys"
)

// ConfigError reports a configuration problem scoped to a field.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// AppConfig is the complete application configuration.
type AppConfig struct {
	Signing SigningConfig `yaml:"signing" json:"signing"`
	Overlay OverlayConfig `yaml:"overlay" json:"overlay"`
	Batch   BatchConfig   `yaml:"batch" json:"batch"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SigningConfig names the available signing profiles.
type SigningConfig struct {
	// DefaultProfile selects the profile used when none is named.
	DefaultProfile string `yaml:"default-profile" json:"default_profile,omitempty"`

	Profiles map[string]*SigningProfile `yaml:"profiles" json:"profiles,omitempty" validate:"dive"`
}

// SigningProfile is one named credential source plus signing defaults.
type SigningProfile struct {
	// Type selects the credential source.
	Type string `yaml:"type" json:"type" validate:"required,oneof=pemder pkcs12 pkcs11"`

	PemDer *PemDerConfig `yaml:"pemder" json:"pemder,omitempty"`
	PKCS12 *PKCS12Config `yaml:"pkcs12" json:"pkcs12,omitempty"`
	PKCS11 *PKCS11Config `yaml:"pkcs11" json:"pkcs11,omitempty"`

	// Reason and Location prefill the signature dictionary.
	Reason   string `yaml:"reason" json:"reason,omitempty"`
	Location string `yaml:"location" json:"location,omitempty"`

	// ReserveSize overrides the estimated /Contents reservation, in bytes.
	ReserveSize int `yaml:"reserve-size" json:"reserve_size,omitempty" validate:"omitempty,min=4096,max=1048576"`
}

// PemDerConfig points at a PEM or DER certificate/key pair on disk.
type PemDerConfig struct {
	CertFile string `yaml:"cert-file" json:"cert_file" validate:"required"`
	KeyFile  string `yaml:"key-file" json:"key_file" validate:"required"`

	// ChainFiles hold additional certificates embedded with the signature.
	ChainFiles []string `yaml:"chain-files" json:"chain_files,omitempty"`

	KeyPassphrase string `yaml:"key-passphrase" json:"key_passphrase,omitempty"`
}

// PKCS12Config points at a .p12/.pfx bundle on disk.
type PKCS12Config struct {
	File       string `yaml:"file" json:"file" validate:"required"`
	Passphrase string `yaml:"passphrase" json:"passphrase,omitempty"`
}

// OverlayConfig carries the styling defaults for overlay and watermark
// text when the caller does not specify them.
type OverlayConfig struct {
	Font     string  `yaml:"font" json:"font,omitempty"`
	FontSize float64 `yaml:"font-size" json:"font_size,omitempty" validate:"omitempty,gt=0,lte=400"`

	// Color is a #rgb or #rrggbb hex color.
	Color string `yaml:"color" json:"color,omitempty" validate:"omitempty,hexcolor"`

	// Opacity is the fill alpha in (0, 1]. Zero selects the default
	// (opaque).
	Opacity float64 `yaml:"opacity" json:"opacity,omitempty" validate:"gte=0,lte=1"`
}

// BatchConfig bounds the batch processor.
type BatchConfig struct {
	// Concurrency is the number of files processed in parallel.
	Concurrency int `yaml:"concurrency" json:"concurrency" validate:"min=1,max=64"`
}

// LoggingConfig tunes the CLI logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" json:"format,omitempty" validate:"omitempty,oneof=text json"`
}

// NewDefaultConfig returns the configuration used when no file is given.
func NewDefaultConfig() *AppConfig {
	return &AppConfig{
		Overlay: OverlayConfig{
			Font:     "Helvetica",
			FontSize: 12,
			Color:    "#000000",
			Opacity:  1,
		},
		Batch:   BatchConfig{Concurrency: 4},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads and validates a YAML configuration file.
func Load(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

var unknownFieldRegex = regexp.MustCompile(`field (\S+) not found`)

// Parse decodes YAML configuration data. Unknown keys are rejected and
// reported with the offending field name.
func Parse(data []byte) (*AppConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg AppConfig
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return NewDefaultConfig(), nil
		}
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) && len(typeErr.Errors) > 0 {
			field := ""
			if m := unknownFieldRegex.FindStringSubmatch(typeErr.Errors[0]); m != nil {
				field = m[1]
			}
			return nil, &ConfigError{
				Field:   field,
				Message: strings.Join(typeErr.Errors, "; "),
				Err:     typeErr,
			}
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	def := NewDefaultConfig()
	if c.Overlay.Font == "" {
		c.Overlay.Font = def.Overlay.Font
	}
	if c.Overlay.FontSize == 0 {
		c.Overlay.FontSize = def.Overlay.FontSize
	}
	if c.Overlay.Color == "" {
		c.Overlay.Color = def.Overlay.Color
	}
	if c.Overlay.Opacity == 0 {
		c.Overlay.Opacity = def.Overlay.Opacity
	}
	if c.Batch.Concurrency == 0 {
		c.Batch.Concurrency = def.Batch.Concurrency
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}

// Validate enforces the struct-tag constraints and the cross-field rules
// the tags cannot express.
func (c *AppConfig) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		return configErrorFor(verrs[0])
	}

	if c.Signing.DefaultProfile != "" {
		if _, ok := c.Signing.Profiles[c.Signing.DefaultProfile]; !ok {
			return NewConfigError("signing.default-profile",
				fmt.Sprintf("unknown profile %q", c.Signing.DefaultProfile))
		}
	}
	for name, profile := range c.Signing.Profiles {
		if err := profile.validateSections(); err != nil {
			var cerr *ConfigError
			if errors.As(err, &cerr) {
				cerr.Field = "signing.profiles." + name + "." + cerr.Field
				return cerr
			}
			return err
		}
	}
	return nil
}

func configErrorFor(e validator.FieldError) *ConfigError {
	field := strings.TrimPrefix(e.Namespace(), "AppConfig.")
	if e.Tag() == "required" {
		return NewConfigError(field, "required field is missing")
	}
	constraint := e.Tag()
	if e.Param() != "" {
		constraint += "=" + e.Param()
	}
	return NewConfigError(field, fmt.Sprintf("value %v violates constraint '%s'", e.Value(), constraint))
}

// validateSections checks that the section matching Type is present.
func (p *SigningProfile) validateSections() error {
	switch p.Type {
	case "pemder":
		if p.PemDer == nil {
			return NewConfigError("pemder", "section is required for type pemder")
		}
	case "pkcs12":
		if p.PKCS12 == nil {
			return NewConfigError("pkcs12", "section is required for type pkcs12")
		}
	case "pkcs11":
		if p.PKCS11 == nil {
			return NewConfigError("pkcs11", "section is required for type pkcs11")
		}
		if err := p.PKCS11.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Credential is signing material loaded from a file-based profile.
type Credential struct {
	Certificate *x509.Certificate
	PrivateKey  keys.PrivateKey
	Chain       []*x509.Certificate
}

// Load resolves the profile's credential files. PKCS#11 profiles carry no
// file material; the caller opens the token session from the profile's
// PKCS11 section instead.
func (p *SigningProfile) Load() (*Credential, error) {
	switch p.Type {
	case "pemder":
		return p.PemDer.Load()
	case "pkcs12":
		return p.PKCS12.Load()
	case "pkcs11":
		return nil, NewConfigError("type", "pkcs11 profiles sign through a token session, not loaded files")
	default:
		return nil, NewConfigError("type", fmt.Sprintf("unknown profile type %q", p.Type))
	}
}

// Load reads the certificate, key and optional chain files.
func (c *PemDerConfig) Load() (*Credential, error) {
	cert, key, err := keys.LoadCertAndKeyFromPemDer(c.CertFile, c.KeyFile, c.passphraseBytes())
	if err != nil {
		return nil, fmt.Errorf("failed to load cert and key: %w", err)
	}
	cred := &Credential{Certificate: cert, PrivateKey: key}
	if len(c.ChainFiles) > 0 {
		chain, err := keys.LoadCertsFromPemDerFiles(c.ChainFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to load chain certs: %w", err)
		}
		cred.Chain = chain
	}
	return cred, nil
}

func (c *PemDerConfig) passphraseBytes() []byte {
	if c.KeyPassphrase == "" {
		return nil
	}
	return []byte(c.KeyPassphrase)
}

// Load decodes the PKCS#12 bundle.
func (c *PKCS12Config) Load() (*Credential, error) {
	cred, err := keys.LoadPKCS12File(c.File, c.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load PKCS#12 bundle: %w", err)
	}
	return &Credential{
		Certificate: cred.Certificate,
		PrivateKey:  cred.PrivateKey,
		Chain:       cred.CACerts,
	}, nil
}

// RGB decodes the configured #rgb or #rrggbb color into components
// in [0, 1].
func (c *OverlayConfig) RGB() (r, g, b float64, err error) {
	hexStr := strings.TrimPrefix(c.Color, "#")
	var rv, gv, bv uint8
	switch len(hexStr) {
	case 3:
		_, err = fmt.Sscanf(hexStr, "%1x%1x%1x", &rv, &gv, &bv)
		rv, gv, bv = rv*17, gv*17, bv*17
	case 6:
		_, err = fmt.Sscanf(hexStr, "%02x%02x%02x", &rv, &gv, &bv)
	default:
		err = NewConfigError("overlay.color", fmt.Sprintf("invalid color %q", c.Color))
	}
	if err != nil {
		return 0, 0, 0, err
	}
	return float64(rv) / 255, float64(gv) / 255, float64(bv) / 255, nil
}
