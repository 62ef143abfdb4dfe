// Package cli provides the command-line interface for editing, signing
// and verifying PDF files.
package cli

import (
	"fmt"
	"os"

	"github.com/pdforge/pdforge/config"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// Exit codes: 0 success, 1 operational failure, 2 usage error.
const (
	exitFailure = 1
	exitUsage   = 2
)

// Run executes the CLI with the given arguments.
// This is the main entry point for the CLI.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		osExit(exitUsage)
		return
	}

	command := args[1]

	switch command {
	case "sign":
		SignCommand(args)
	case "verify":
		VerifyCommand(args)
	case "pages":
		PagesCommand(args)
	case "overlay":
		OverlayCommand(args)
	case "info":
		InfoCommand(args)
	case "certgen":
		CertGenCommand(args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		Usage()
		osExit(exitUsage)
	}
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Printf("pdforge - offline PDF editing and signing tool\n\n")
	fmt.Printf("Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  sign     Sign PDF files with a digital signature")
	fmt.Println("  verify   Verify the digital signature(s) of PDF files")
	fmt.Println("  pages    Rotate, delete, reorder, crop or extract pages")
	fmt.Println("  overlay  Stamp text, watermarks or images onto pages")
	fmt.Println("  info     Show document metadata, page geometry and signatures")
	fmt.Println("  certgen  Generate a self-signed certificate and key pair")
	fmt.Println("  version  Show version information")
	fmt.Println("  help     Show this help message")
	fmt.Println("")
	fmt.Printf("Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  %s sign -cert cert.pem -key key.pem -out signed.pdf input.pdf\n", os.Args[0])
	fmt.Printf("  %s verify -json signed.pdf\n", os.Args[0])
	fmt.Printf("  %s pages rotate -page 2 -by 90 input.pdf rotated.pdf\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Printf("pdforge version %s\n", Version)
	fmt.Printf("Build time: %s\n", BuildTime)
}

// fail reports err on stderr and exits with the operational failure code.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	osExit(exitFailure)
}

// loadConfig reads the optional YAML configuration and installs the log
// sink it describes. An empty path yields the defaults.
func loadConfig(path string) (*config.AppConfig, error) {
	cfg := config.NewDefaultConfig()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	installLogger(cfg.Logging)
	return cfg, nil
}
