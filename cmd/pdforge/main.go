// Command pdforge edits, signs and verifies PDF files offline.
//
// Usage:
//
//	pdforge <command> [options] <args>
//
// Commands:
//
//	sign     Sign PDF files with a digital signature
//	verify   Verify the digital signature(s) of PDF files
//	pages    Rotate, delete, reorder, crop or extract pages
//	overlay  Stamp text, watermarks or images onto pages
//	info     Show document metadata, page geometry and signatures
//	certgen  Generate a self-signed certificate and key pair
//	version  Show version information
//	help     Show help message
//
// Examples:
//
//	# Sign a PDF
//	pdforge sign -cert cert.pem -key key.pem -out signed.pdf input.pdf
//
//	# Verify with JSON output
//	pdforge verify -json signed.pdf
//
//	# Rotate every page a quarter turn
//	pdforge pages rotate -by 90 input.pdf rotated.pdf
package main

import (
	"os"

	"github.com/pdforge/pdforge/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/pdforge
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Set version info
	cli.Version = version
	cli.BuildTime = buildTime

	// Run the CLI
	cli.Run(os.Args)
}
