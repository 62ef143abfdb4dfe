package config

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// TokenCriteria narrows the PKCS#11 token search when the slot number is
// not known up front. Values are compared against the token info with
// trailing padding removed.
type TokenCriteria struct {
	// Label is the token label to match. Empty applies no label
	// constraint.
	Label string `yaml:"label" json:"label,omitempty"`

	// Serial is the token serial number to match. Empty applies no
	// serial constraint.
	Serial string `yaml:"serial" json:"serial,omitempty"`
}

// IsEmpty reports whether no criteria are set. Safe on a nil receiver.
func (c *TokenCriteria) IsEmpty() bool {
	return c == nil || (c.Label == "" && c.Serial == "")
}

func (c *TokenCriteria) String() string {
	if c.IsEmpty() {
		return "<no criteria>"
	}
	var parts []string
	if c.Label != "" {
		parts = append(parts, fmt.Sprintf("label=%q", c.Label))
	}
	if c.Serial != "" {
		parts = append(parts, fmt.Sprintf("serial=%q", c.Serial))
	}
	return "TokenCriteria{" + strings.Join(parts, ", ") + "}"
}

// PKCS11Config locates a token and the signing objects on it.
type PKCS11Config struct {
	// ModulePath is the PKCS#11 module shared object (.so/.dylib/.dll).
	ModulePath string `yaml:"module-path" json:"module_path" validate:"required"`

	// SlotNo pins the slot. Nil searches all slots with tokens present.
	SlotNo *int `yaml:"slot-no" json:"slot_no,omitempty"`

	// Token narrows the slot search when SlotNo is nil.
	Token *TokenCriteria `yaml:"token" json:"token,omitempty"`

	// CertLabel and CertID identify the signing certificate on the
	// token. IDs are hex strings. When only the key identifiers are
	// given, they double as certificate identifiers.
	CertLabel string `yaml:"cert-label" json:"cert_label,omitempty"`
	CertID    string `yaml:"cert-id" json:"cert_id,omitempty" validate:"omitempty,hexadecimal"`

	// KeyLabel and KeyID identify the private key, defaulting to the
	// certificate identifiers when omitted.
	KeyLabel string `yaml:"key-label" json:"key_label,omitempty"`
	KeyID    string `yaml:"key-id" json:"key_id,omitempty" validate:"omitempty,hexadecimal"`

	// UserPIN authenticates the session.
	UserPIN string `yaml:"user-pin" json:"user_pin,omitempty"`

	// DeferPIN skips the login call for tokens with an external PIN pad.
	DeferPIN bool `yaml:"defer-pin" json:"defer_pin"`

	// RawMechanism hashes locally and sends the token a raw signing
	// request, for tokens without hash-and-sign mechanisms.
	RawMechanism bool `yaml:"raw-mechanism" json:"raw_mechanism"`
}

// Validate checks the module path and that at least one object
// identifier is present.
func (c *PKCS11Config) Validate() error {
	if c.ModulePath == "" {
		return NewConfigError("module-path", "required field is missing")
	}
	if c.CertLabel == "" && c.CertID == "" && c.KeyLabel == "" && c.KeyID == "" {
		return NewConfigError("", "at least one of cert-label, cert-id, key-label or key-id must be set")
	}
	return nil
}

// CertIDBytes decodes the hex certificate ID, nil when unset.
func (c *PKCS11Config) CertIDBytes() ([]byte, error) {
	return decodeHexID("cert-id", c.CertID)
}

// KeyIDBytes decodes the hex key ID, nil when unset.
func (c *PKCS11Config) KeyIDBytes() ([]byte, error) {
	return decodeHexID("key-id", c.KeyID)
}

func decodeHexID(field, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	id, err := hex.DecodeString(value)
	if err != nil {
		return nil, &ConfigError{Field: field, Message: fmt.Sprintf("invalid hex ID %q", value), Err: err}
	}
	return id, nil
}
