package report

import (
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"docbatch/internal/jobstore"
	"docbatch/internal/textutil"
)

const (
	// SimilarityThreshold is the IDF-weighted cosine score above which two
	// results are reported as near-duplicates.
	SimilarityThreshold = 0.95
	// maxSimilarityItems bounds the pairwise comparison.
	maxSimilarityItems = 500
)

// Stats summarizes a job's outcomes.
type Stats struct {
	Total           int                 `json:"total"`
	Succeeded       int                 `json:"succeeded"`
	Failed          int                 `json:"failed"`
	AvgCharacters   float64             `json:"avg_characters"`
	AvgWords        float64             `json:"avg_words"`
	AvgConfidence   float64             `json:"avg_confidence"`
	MinConfidence   float64             `json:"min_confidence"`
	MaxConfidence   float64             `json:"max_confidence"`
	AttributeKeys   []string            `json:"attribute_keys"`
	AttributeValues map[string][]string `json:"attribute_values"`
	FailureKinds    map[string]int      `json:"failure_kinds"`
	SimilarPairs    []SimilarPair       `json:"similar_pairs,omitempty"`
}

// SimilarPair names two results whose content is nearly identical.
type SimilarPair struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Score float64 `json:"score"`
}

// ComputeStats summarizes results and errors. Attribute keys are case
// folded and NFC normalized so "Language" and "language" collapse.
func ComputeStats(results []jobstore.Result, errs []jobstore.ErrorRecord) Stats {
	stats := Stats{
		Total:           len(results) + len(errs),
		Succeeded:       len(results),
		Failed:          len(errs),
		AttributeKeys:   []string{},
		AttributeValues: map[string][]string{},
		FailureKinds:    map[string]int{},
	}
	for _, e := range errs {
		stats.FailureKinds[string(e.Kind)]++
	}
	if len(results) == 0 {
		return stats
	}

	fold := cases.Fold()
	values := make(map[string]map[string]struct{})
	var chars, words, confidence float64
	stats.MinConfidence = results[0].Confidence
	stats.MaxConfidence = results[0].Confidence
	for _, r := range results {
		chars += float64(utf8.RuneCountInString(r.Content))
		words += float64(textutil.WordCount(r.Content))
		confidence += r.Confidence
		stats.MinConfidence = min(stats.MinConfidence, r.Confidence)
		stats.MaxConfidence = max(stats.MaxConfidence, r.Confidence)
		for k, v := range r.Attributes {
			key := NormalizeKey(fold, k)
			if key == "" {
				continue
			}
			if values[key] == nil {
				values[key] = make(map[string]struct{})
			}
			if v = norm.NFC.String(strings.TrimSpace(v)); v != "" {
				values[key][v] = struct{}{}
			}
		}
	}
	n := float64(len(results))
	stats.AvgCharacters = chars / n
	stats.AvgWords = words / n
	stats.AvgConfidence = confidence / n

	for key, set := range values {
		stats.AttributeKeys = append(stats.AttributeKeys, key)
		list := make([]string, 0, len(set))
		for v := range set {
			list = append(list, v)
		}
		sort.Strings(list)
		stats.AttributeValues[key] = list
	}
	sort.Strings(stats.AttributeKeys)
	stats.SimilarPairs = similarPairs(results)
	return stats
}

// NormalizeKey folds case and applies NFC. fold may be shared within one goroutine.
func NormalizeKey(fold cases.Caser, key string) string {
	return norm.NFC.String(fold.String(strings.TrimSpace(key)))
}

func similarPairs(results []jobstore.Result) []SimilarPair {
	if len(results) < 2 || len(results) > maxSimilarityItems {
		return nil
	}
	corpus := textutil.NewCorpus()
	raw := make([]*textutil.Fingerprint, len(results))
	for i, r := range results {
		raw[i] = textutil.NewFingerprint(r.Content)
		corpus.Add(raw[i])
	}
	idf := corpus.IDF()
	weighted := make([]*textutil.Fingerprint, len(raw))
	for i, fp := range raw {
		weighted[i] = fp.WithIDF(idf)
	}

	var pairs []SimilarPair
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			score := textutil.CosineSimilarity(weighted[i], weighted[j])
			if score < SimilarityThreshold {
				continue
			}
			a, b := results[i].ItemID, results[j].ItemID
			if b < a {
				a, b = b, a
			}
			pairs = append(pairs, SimilarPair{A: a, B: b, Score: score})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}
