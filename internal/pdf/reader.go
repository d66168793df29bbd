package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	ledpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

const documentHeader = "FINANCIAL DOCUMENT CONTENT\n==========================\n"

var (
	ErrFileNotFound = errors.New("file not found")
	ErrNoText       = errors.New("no readable text found in PDF")
)

var newlineRunRe = regexp.MustCompile(`\n+`)

// Page is the text of one page, numbered from 1.
type Page struct {
	Number int
	Text   string
}

// Extractor reads text out of PDF files. pdfcpu checks the file structure;
// glyphs are decoded through each font's encoding and ToUnicode map.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// ReadDocument extracts every page and renders the document block handed to
// the analysis stages.
func (e *Extractor) ReadDocument(ctx context.Context, path string) (string, error) {
	pages, err := e.ExtractPages(ctx, path)
	if err != nil {
		return "", err
	}
	return FormatDocument(pages)
}

// ExtractPages returns the decoded text of each page in order. A page whose
// text cannot be decoded comes back empty.
func (e *Extractor) ExtractPages(ctx context.Context, path string) ([]Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("stat pdf: %w", err)
	}

	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	f, r, err := openReader(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	count := r.NumPage()
	if count != pdfCtx.PageCount {
		log.Debug().Str("path", path).Int("pdfcpu", pdfCtx.PageCount).Int("decoder", count).
			Msg("page count mismatch")
	}
	pages := make([]Page, 0, count)
	for n := 1; n <= count; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err //nolint:wrapcheck
		}
		page := Page{Number: n}
		if p := r.Page(n); !p.V.IsNull() {
			text, err := pageText(p)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Int("page", n).Msg("page text not decodable")
			}
			page.Text = text
		}
		pages = append(pages, page)
	}
	log.Debug().Str("path", path).Int("pages", len(pages)).Msg("pdf pages extracted")
	return pages, nil
}

func openReader(path string) (f *os.File, r *ledpdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("open pdf: %v", rec)
		}
	}()
	f, r, err = ledpdf.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open pdf: %w", err)
	}
	return f, r, nil
}

// FormatDocument normalizes page text and joins the non-empty pages under
// the document header.
func FormatDocument(pages []Page) (string, error) {
	blocks := make([]string, 0, len(pages))
	for _, p := range pages {
		text := strings.TrimSpace(strings.ReplaceAll(p.Text, "\t", " "))
		if text == "" {
			continue
		}
		text = newlineRunRe.ReplaceAllString(text, "\n")
		blocks = append(blocks, fmt.Sprintf("[Page %d]\n%s", p.Number, text))
	}
	if len(blocks) == 0 {
		return "", ErrNoText
	}
	return documentHeader + strings.Join(blocks, "\n\n") + "\n", nil
}
