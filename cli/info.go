package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pdforge/pdforge/pdf/document"
	"github.com/pdforge/pdforge/pdf/generic"
	"github.com/pdforge/pdforge/sign/signers"
)

// InfoCommand implements the 'info' command.
func InfoCommand(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Printf("Usage: %s info [options] <input.pdf>\n\n", os.Args[0])
		fmt.Println("Show document metadata, page geometry and the signature inventory.")
		fmt.Println("")
		fmt.Println("Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(exitUsage)
	}

	if fs.NArg() != 1 {
		fs.Usage()
		osExit(exitUsage)
	}

	report, err := buildDocumentReport(fs.Arg(0))
	if err != nil {
		fail(err)
		return
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fail(err)
		}
		return
	}
	writeDocumentReport(os.Stdout, report)
}

// DocumentReport is the info command's output.
type DocumentReport struct {
	File       string            `json:"file"`
	Version    string            `json:"version"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Pages      []PageReport      `json:"pages"`
	Signatures []SignatureEntry  `json:"signatures,omitempty"`
}

// PageReport describes one page's geometry.
type PageReport struct {
	Number   int     `json:"number"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation int     `json:"rotation,omitempty"`
}

// SignatureEntry is one row of the signature inventory. It is taken from
// the signature dictionary without verifying anything.
type SignatureEntry struct {
	FieldName   string `json:"field_name,omitempty"`
	SubFilter   string `json:"sub_filter,omitempty"`
	SigningTime string `json:"signing_time,omitempty"`
	WholeFile   bool   `json:"covers_whole_file"`
}

// buildDocumentReport loads path and collects its metadata, page geometry
// and signature inventory.
func buildDocumentReport(path string) (*DocumentReport, error) {
	doc, err := document.LoadFile(path)
	if err != nil {
		return nil, err
	}

	report := &DocumentReport{
		File:    path,
		Version: doc.Version(),
	}

	if info := doc.Info(); info != nil {
		meta := map[string]string{}
		for _, key := range []string{"Title", "Author", "Subject", "Creator", "Producer"} {
			if s := info.GetString(key); s != nil && s.Text() != "" {
				meta[strings.ToLower(key)] = s.Text()
			}
		}
		if s := info.GetString("CreationDate"); s != nil {
			if t, err := signers.ParsePDFDate(s.Text()); err == nil {
				meta["creation_date"] = t.Format(time.RFC3339)
			}
		}
		if s := info.GetString("ModDate"); s != nil {
			if t, err := signers.ParsePDFDate(s.Text()); err == nil {
				meta["mod_date"] = t.Format(time.RFC3339)
			}
		}
		if len(meta) > 0 {
			report.Metadata = meta
		}
	}

	pageList, err := doc.Pages()
	if err != nil {
		return nil, err
	}
	for i, page := range pageList {
		pr := PageReport{Number: i + 1}
		if box, ok := inheritedBox(doc, page.Dict, "MediaBox"); ok {
			pr.Width = box.URX - box.LLX
			pr.Height = box.URY - box.LLY
		}
		pr.Rotation = inheritedRotation(doc, page.Dict)
		report.Pages = append(report.Pages, pr)
	}

	for _, sig := range doc.Reader().EmbeddedSignatures() {
		entry := SignatureEntry{
			FieldName: sig.FieldName(),
			SubFilter: sig.SubFilter(),
			WholeFile: sig.CoversWholeFile(),
		}
		if raw := sig.SigningTime(); raw != "" {
			if t, err := signers.ParsePDFDate(raw); err == nil {
				entry.SigningTime = t.Format(time.RFC3339)
			} else {
				entry.SigningTime = raw
			}
		}
		report.Signatures = append(report.Signatures, entry)
	}

	return report, nil
}

// inheritedBox resolves a page box, walking /Parent for inherited values.
func inheritedBox(doc *document.Document, dict *generic.DictionaryObject, key string) (generic.Rectangle, bool) {
	node := dict
	for depth := 0; node != nil && depth < 64; depth++ {
		if arr := node.GetArray(key); len(arr) == 4 {
			resolved := make(generic.ArrayObject, len(arr))
			for i, obj := range arr {
				v, err := doc.Resolve(obj)
				if err != nil {
					return generic.Rectangle{}, false
				}
				resolved[i] = v
			}
			rect, err := generic.NewRectangle(resolved)
			if err != nil {
				return generic.Rectangle{}, false
			}
			return *rect, true
		}
		parent, ok := node.GetReference("Parent")
		if !ok {
			break
		}
		next, err := doc.ResolveDict(parent)
		if err != nil {
			break
		}
		node = next
	}
	return generic.Rectangle{}, false
}

// inheritedRotation resolves the effective /Rotate for a page.
func inheritedRotation(doc *document.Document, dict *generic.DictionaryObject) int {
	node := dict
	for depth := 0; node != nil && depth < 64; depth++ {
		if rot, ok := node.GetInt("Rotate"); ok {
			return int(rot)
		}
		parent, ok := node.GetReference("Parent")
		if !ok {
			break
		}
		next, err := doc.ResolveDict(parent)
		if err != nil {
			break
		}
		node = next
	}
	return 0
}

// writeDocumentReport prints the report in human-readable text format.
func writeDocumentReport(w io.Writer, report *DocumentReport) {
	fmt.Fprintf(w, "%s (PDF %s)\n", report.File, report.Version)

	for _, key := range []string{"title", "author", "subject", "creator", "producer", "creation_date", "mod_date"} {
		if value, ok := report.Metadata[key]; ok {
			fmt.Fprintf(w, "  %s: %s\n", metaLabel(key), value)
		}
	}

	fmt.Fprintf(w, "  Pages: %d\n", len(report.Pages))
	for _, page := range report.Pages {
		line := fmt.Sprintf("    Page %d: %.1f x %.1f pt", page.Number, page.Width, page.Height)
		if page.Rotation != 0 {
			line += fmt.Sprintf(" (rotated %d)", page.Rotation)
		}
		fmt.Fprintln(w, line)
	}

	if len(report.Signatures) > 0 {
		fmt.Fprintf(w, "  Signatures: %d\n", len(report.Signatures))
		for _, sig := range report.Signatures {
			line := "    " + sig.FieldName
			if sig.SigningTime != "" {
				line += " signed " + sig.SigningTime
			}
			if sig.WholeFile {
				line += " (covers whole file)"
			}
			fmt.Fprintln(w, line)
		}
	}
}

func metaLabel(key string) string {
	switch key {
	case "creation_date":
		return "Created"
	case "mod_date":
		return "Modified"
	default:
		return strings.ToUpper(key[:1]) + key[1:]
	}
}
