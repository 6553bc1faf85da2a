package textutil_test

import (
	"math"
	"strings"
	"testing"

	"docbatch/internal/textutil"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple words", "Invoice Total", []string{"invoice", "total"}},
		{"filters short", "a to the due date", []string{"the", "due", "date"}},
		{"punctuation", "Paid, in full! Thank you.", []string{"paid", "full", "thank", "you"}},
		{"numbers", "inv2024 0042", []string{"inv2024", "0042"}},
		{"unicode letters", "Größe Straße café", []string{"größe", "straße", "café"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := textutil.Tokenize(tt.input)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("Tokenize(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestWordCount(t *testing.T) {
	if got := textutil.WordCount("  one two\tthree\nfour "); got != 4 {
		t.Fatalf("WordCount = %d, want 4", got)
	}
	if got := textutil.WordCount(""); got != 0 {
		t.Fatalf("WordCount(empty) = %d, want 0", got)
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := textutil.NewFingerprint("quarterly revenue report for the northern region")
	b := textutil.NewFingerprint("quarterly revenue report for the northern region")
	c := textutil.NewFingerprint("minutes of the garden committee meeting")

	if got := textutil.CosineSimilarity(a, b); math.Abs(got-1) > 1e-9 {
		t.Fatalf("identical similarity = %v, want 1", got)
	}
	if got := textutil.CosineSimilarity(a, c); got >= 0.5 {
		t.Fatalf("unrelated similarity = %v, want < 0.5", got)
	}
	if got := textutil.CosineSimilarity(nil, a); got != 0 {
		t.Fatalf("nil similarity = %v, want 0", got)
	}
	if textutil.CosineSimilarity(a, c) != textutil.CosineSimilarity(c, a) {
		t.Fatal("similarity is not symmetric")
	}
}

func TestNewFingerprintEmpty(t *testing.T) {
	if fp := textutil.NewFingerprint("a an it to"); fp != nil {
		t.Fatal("expected nil fingerprint for short tokens only")
	}
	if got := textutil.NewFingerprint("hello hello world").TokenCount(); got != 2 {
		t.Fatalf("TokenCount = %d, want 2", got)
	}
}

func TestIDFDownweightsSharedTerms(t *testing.T) {
	docs := []string{
		"invoice acme widgets",
		"invoice globex gadgets",
		"invoice initech staplers",
	}
	corpus := textutil.NewCorpus()
	fps := make([]*textutil.Fingerprint, len(docs))
	for i, doc := range docs {
		fps[i] = textutil.NewFingerprint(doc)
		corpus.Add(fps[i])
	}
	idf := corpus.IDF()
	if idf["invoice"] >= idf["acme"] {
		t.Fatalf("idf[invoice]=%v should be below idf[acme]=%v", idf["invoice"], idf["acme"])
	}

	raw := textutil.CosineSimilarity(fps[0], fps[1])
	weighted := textutil.CosineSimilarity(fps[0].WithIDF(idf), fps[1].WithIDF(idf))
	if weighted >= raw {
		t.Fatalf("weighted similarity %v should be below raw %v", weighted, raw)
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"reports/2024/q1.txt", "reports-2024-q1.txt"},
		{"what?.pdf", "what.pdf"},
		{"  ", "item"},
		{"..", "item"},
		{"tab\there", "tabhere"},
	}
	for _, tt := range tests {
		if got := textutil.SanitizeFileName(tt.input); got != tt.want {
			t.Fatalf("SanitizeFileName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
	long := strings.Repeat("x", 300)
	if got := len([]rune(textutil.SanitizeFileName(long))); got != 120 {
		t.Fatalf("long name length = %d, want 120", got)
	}
}
