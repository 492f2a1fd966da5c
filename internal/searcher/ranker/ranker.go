// Package ranker scores matches with BM25 and orders hits.
package ranker

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
)

const (
	k1 = 1.2
	b  = 0.75
)

// TermStats describes one term in one field.
type TermStats struct {
	TermFreq     int
	DocFreq      int
	DocLength    int
	TotalDocs    int
	AvgDocLength float64
}

// BM25 scores a single term occurrence.
func BM25(s TermStats) float64 {
	idf := computeIDF(int64(s.TotalDocs), int64(s.DocFreq))
	return idf * computeTFNorm(float64(s.TermFreq), float64(s.DocLength), s.AvgDocLength)
}

// Sort orders hits by descending score, then ascending id, and applies
// limit when it is positive. Scores are rounded to four decimals.
func Sort(hits []document.SearchHit, limit int) []document.SearchHit {
	for i := range hits {
		hits[i].Score = math.Round(hits[i].Score*10000) / 10000
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(1 + numerator/denominator)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
