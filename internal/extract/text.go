package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/language"

	"docbatch/internal/source"
)

// ErrNoText is returned when an item yields no extractable text.
var ErrNoText = errors.New("no extractable text")

// TextExtractor reads plain-text formats directly and PDFs page by page.
type TextExtractor struct {
	// MaxBytes caps how much of a text file is read; zero means unlimited.
	MaxBytes int64
}

// NewTextExtractor returns a TextExtractor with no size cap.
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Name implements Named.
func (e *TextExtractor) Name() string { return "text" }

// Extract implements Extractor.
func (e *TextExtractor) Extract(ctx context.Context, item source.Item) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}
	attrs := map[string]string{"format": strings.TrimPrefix(item.Ext(), ".")}

	var (
		content string
		err     error
	)
	if item.Ext() == ".pdf" {
		var pages int
		content, pages, err = readPDF(ctx, item.Path)
		attrs["pages"] = strconv.Itoa(pages)
	} else {
		content, err = e.readText(item.Path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return Extraction{}, Permanent(err)
		}
		return Extraction{}, err
	}
	if strings.TrimSpace(content) == "" {
		return Extraction{}, Permanent(fmt.Errorf("%s: %w", item.ID, ErrNoText))
	}
	if tag := detectLanguage(content); tag != "" {
		attrs["language"] = tag
	}
	return Extraction{
		Content:    content,
		Confidence: PrintableRatio(content),
		Attributes: attrs,
	}, nil
}

func (e *TextExtractor) readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if e.MaxBytes > 0 && int64(len(data)) > e.MaxBytes {
		data = data[:e.MaxBytes]
	}
	return string(data), nil
}

func readPDF(ctx context.Context, path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, Permanent(fmt.Errorf("open pdf: %w", err))
	}
	defer f.Close()

	total := r.NumPage()
	var b strings.Builder
	for index := 1; index <= total; index++ {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		p := r.Page(index)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", 0, Permanent(fmt.Errorf("extract text from page %d: %w", index, err))
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), total, nil
}

// PrintableRatio returns the share of runes in s that are printable or
// whitespace. Invalid UTF-8 bytes count as unprintable.
func PrintableRatio(s string) float64 {
	if s == "" {
		return 0
	}
	var total, printable int
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		total++
		if r == utf8.RuneError && size == 1 {
			continue
		}
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	return float64(printable) / float64(total)
}

var (
	htmlLangPattern   = regexp.MustCompile(`(?i)<html[^>]*\slang\s*=\s*["']?([A-Za-z0-9_-]+)`)
	headerLangPattern = regexp.MustCompile(`(?im)^\s*(?:lang|language)\s*:\s*([A-Za-z0-9_-]+)\s*$`)
)

// detectLanguage looks for an explicit language tag in the first few
// kilobytes: an HTML lang attribute or a "language:" header line.
func detectLanguage(content string) string {
	head := content
	if len(head) > 4096 {
		head = head[:4096]
	}
	for _, pattern := range []*regexp.Regexp{htmlLangPattern, headerLangPattern} {
		if match := pattern.FindStringSubmatch(head); len(match) == 2 {
			if tag := CanonicalLanguage(match[1]); tag != "" {
				return tag
			}
		}
	}
	return ""
}

// CanonicalLanguage normalizes a BCP 47 tag such as "EN_us" to "en-US".
// Unparseable values return "".
func CanonicalLanguage(value string) string {
	value = strings.ReplaceAll(strings.TrimSpace(value), "_", "-")
	if value == "" {
		return ""
	}
	tag, err := language.Parse(value)
	if err != nil {
		return ""
	}
	return tag.String()
}
