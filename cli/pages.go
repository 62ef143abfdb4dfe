package cli

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pdforge/pdforge/pdf/document"
	"github.com/pdforge/pdforge/pdf/generic"
	"github.com/pdforge/pdforge/pdf/pages"
)

// PagesCommand implements the 'pages' command and its operations.
func PagesCommand(args []string) {
	if len(args) < 3 {
		pagesUsage()
		osExit(exitUsage)
		return
	}

	switch args[2] {
	case "rotate":
		pagesRotate(args[3:])
	case "delete":
		pagesDelete(args[3:])
	case "reorder":
		pagesReorder(args[3:])
	case "crop":
		pagesCrop(args[3:])
	case "extract":
		pagesExtract(args[3:])
	case "help", "-h", "--help":
		pagesUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown pages operation: %s\n\n", args[2])
		pagesUsage()
		osExit(exitUsage)
	}
}

func pagesUsage() {
	fmt.Printf("Usage: %s pages <operation> [options] <input.pdf> <output.pdf>\n\n", os.Args[0])
	fmt.Println("Operations:")
	fmt.Println("  rotate   Rotate pages by a multiple of 90 degrees")
	fmt.Println("  delete   Delete a page")
	fmt.Println("  reorder  Rearrange pages into a new order")
	fmt.Println("  crop     Set the visible region of pages")
	fmt.Println("  extract  Copy a page range into a new document")
	fmt.Println("")
	fmt.Println("Pages are numbered from 1. Page 0 means every page where allowed.")
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  %s pages rotate -page 2 -by 90 in.pdf out.pdf\n", os.Args[0])
	fmt.Printf("  %s pages reorder -order 3,1,2 in.pdf out.pdf\n", os.Args[0])
	fmt.Printf("  %s pages crop -box 0,0,300,400 in.pdf out.pdf\n", os.Args[0])
	fmt.Printf("  %s pages extract -from 2 -to 4 in.pdf out.pdf\n", os.Args[0])
}

// pagesPaths pulls the input and output positional arguments.
func pagesPaths(fs *flag.FlagSet) (string, string) {
	if fs.NArg() != 2 {
		fs.Usage()
		osExit(exitUsage)
	}
	return fs.Arg(0), fs.Arg(1)
}

// transformDocument loads in, applies fn and writes the rewritten document
// to out.
func transformDocument(in, out string, fn func(*document.Document) error) error {
	doc, err := document.LoadFile(in)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	data, err := doc.Save()
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

// forEachPage runs fn for the 1-based page number, or for every page when
// number is 0.
func forEachPage(doc *document.Document, number int, fn func(index int) error) error {
	if number == 0 {
		for i := 0; i < doc.PageCount(); i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}
	return fn(number - 1)
}

func pagesRotate(args []string) {
	fs := flag.NewFlagSet("pages rotate", flag.ExitOnError)
	page := fs.Int("page", 0, "Page number to rotate (0 rotates every page)")
	by := fs.Int("by", 90, "Degrees clockwise; must be a multiple of 90")
	fs.Usage = func() {
		fmt.Printf("Usage: %s pages rotate [options] <input.pdf> <output.pdf>\n\n", os.Args[0])
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(exitUsage)
	}
	in, out := pagesPaths(fs)

	err := transformDocument(in, out, func(doc *document.Document) error {
		return forEachPage(doc, *page, func(idx int) error {
			return pages.Rotate(doc, idx, *by)
		})
	})
	if err != nil {
		fail(err)
	}
	fmt.Printf("Wrote %s\n", out)
}

func pagesDelete(args []string) {
	fs := flag.NewFlagSet("pages delete", flag.ExitOnError)
	page := fs.Int("page", 0, "Page number to delete (required)")
	fs.Usage = func() {
		fmt.Printf("Usage: %s pages delete -page <n> <input.pdf> <output.pdf>\n\n", os.Args[0])
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(exitUsage)
	}
	in, out := pagesPaths(fs)

	if *page < 1 {
		fmt.Fprintln(os.Stderr, "-page must be 1 or higher")
		osExit(exitUsage)
	}

	err := transformDocument(in, out, func(doc *document.Document) error {
		return pages.Delete(doc, *page-1)
	})
	if err != nil {
		fail(err)
	}
	fmt.Printf("Wrote %s\n", out)
}

func pagesReorder(args []string) {
	fs := flag.NewFlagSet("pages reorder", flag.ExitOnError)
	order := fs.String("order", "", "Comma-separated new page order, e.g. 3,1,2")
	fs.Usage = func() {
		fmt.Printf("Usage: %s pages reorder -order <list> <input.pdf> <output.pdf>\n\n", os.Args[0])
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(exitUsage)
	}
	in, out := pagesPaths(fs)

	indices, err := parsePageList(*order)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -order: %v\n", err)
		osExit(exitUsage)
	}

	err = transformDocument(in, out, func(doc *document.Document) error {
		return pages.Reorder(doc, indices)
	})
	if err != nil {
		fail(err)
	}
	fmt.Printf("Wrote %s\n", out)
}

func pagesCrop(args []string) {
	fs := flag.NewFlagSet("pages crop", flag.ExitOnError)
	page := fs.Int("page", 0, "Page number to crop (0 crops every page)")
	box := fs.String("box", "", "Crop box as llx,lly,urx,ury in points")
	fs.Usage = func() {
		fmt.Printf("Usage: %s pages crop -box <llx,lly,urx,ury> <input.pdf> <output.pdf>\n\n", os.Args[0])
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(exitUsage)
	}
	in, out := pagesPaths(fs)

	rect, err := parseBox(*box)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -box: %v\n", err)
		osExit(exitUsage)
	}

	err = transformDocument(in, out, func(doc *document.Document) error {
		return forEachPage(doc, *page, func(idx int) error {
			return pages.Crop(doc, idx, rect)
		})
	})
	if err != nil {
		fail(err)
	}
	fmt.Printf("Wrote %s\n", out)
}

func pagesExtract(args []string) {
	fs := flag.NewFlagSet("pages extract", flag.ExitOnError)
	from := fs.Int("from", 1, "First page of the range")
	to := fs.Int("to", 0, "Last page of the range (0 means the last page)")
	fs.Usage = func() {
		fmt.Printf("Usage: %s pages extract -from <n> -to <m> <input.pdf> <output.pdf>\n\n", os.Args[0])
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(exitUsage)
	}
	in, out := pagesPaths(fs)

	if err := runExtract(in, out, *from, *to); err != nil {
		fail(err)
	}
	fmt.Printf("Wrote %s\n", out)
}

func runExtract(in, out string, from, to int) error {
	doc, err := document.LoadFile(in)
	if err != nil {
		return err
	}
	if to == 0 {
		to = doc.PageCount()
	}
	extract, err := pages.ExtractRange(doc, from-1, to-1)
	if err != nil {
		return err
	}
	data, err := extract.Save()
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

// parsePageList parses 1-based comma-separated page numbers into 0-based
// indices.
func parsePageList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty page list")
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("bad page number %q", part)
		}
		if n < 1 {
			return nil, fmt.Errorf("page numbers start at 1, got %d", n)
		}
		out = append(out, n-1)
	}
	return out, nil
}

// parseBox parses llx,lly,urx,ury.
func parseBox(s string) (generic.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return generic.Rectangle{}, fmt.Errorf("want llx,lly,urx,ury, got %q", s)
	}
	var v [4]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return generic.Rectangle{}, fmt.Errorf("bad coordinate %q", part)
		}
		v[i] = f
	}
	return generic.Rectangle{LLX: v[0], LLY: v[1], URX: v[2], URY: v[3]}, nil
}
