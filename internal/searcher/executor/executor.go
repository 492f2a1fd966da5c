// Package executor runs a parsed query against the index. Every field is
// scored on its own as a fuzzy bool query with a minimum number of matching
// terms; a document's score is its best boosted field score.
package executor

import (
	"context"
	"log/slog"
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/searcher/ranker"
)

// MaxExpansions caps how many indexed terms one fuzzy query term expands to.
const MaxExpansions = 50

type SearchResult struct {
	Query     string               `json:"query"`
	TotalHits int                  `json:"totalHits"`
	Hits      []document.SearchHit `json:"hits"`
}

type Executor struct {
	engine *indexer.Engine
	boosts map[index.Field]float64
	logger *slog.Logger
}

// New creates an executor over engine. nameBoost multiplies name-field
// scores; values <= 0 mean 1.
func New(engine *indexer.Engine, nameBoost float64) *Executor {
	if nameBoost <= 0 {
		nameBoost = 1
	}
	return &Executor{
		engine: engine,
		boosts: map[index.Field]float64{
			index.FieldName:    nameBoost,
			index.FieldOcrText: 1,
		},
		logger: slog.Default().With("component", "query-executor"),
	}
}

type expansion struct {
	term     string
	distance int
	weight   float64
}

func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan, limit int) (*SearchResult, error) {
	if len(plan.Terms) == 0 {
		return &SearchResult{
			Query: plan.RawQuery,
			Hits:  []document.SearchHit{},
		}, nil
	}
	idx := e.engine.Index()
	best := make(map[int64]float64)

	for _, field := range index.Fields {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stats := idx.Stats(field)
		var vocab []string
		if needsVocabulary(plan) {
			vocab = idx.Vocabulary(field)
		}

		matched := make(map[int64]int)
		scores := make(map[int64]float64)
		for _, qt := range plan.Terms {
			termScores := make(map[int64]float64)
			for _, exp := range expand(qt, vocab) {
				postings := idx.Postings(field, exp.term)
				for _, p := range postings {
					s := exp.weight * ranker.BM25(ranker.TermStats{
						TermFreq:     p.Frequency,
						DocFreq:      len(postings),
						DocLength:    idx.DocLength(field, p.DocID),
						TotalDocs:    stats.DocCount,
						AvgDocLength: stats.AvgDocLength,
					})
					if cur, seen := termScores[p.DocID]; !seen || s > cur {
						termScores[p.DocID] = s
					}
				}
			}
			for id, s := range termScores {
				matched[id]++
				scores[id] += s
			}
		}

		boost := e.boosts[field]
		for id, n := range matched {
			if n < plan.RequiredMatch {
				continue
			}
			s := boost * scores[id]
			if cur, ok := best[id]; !ok || s > cur {
				best[id] = s
			}
		}
	}

	hits := make([]document.SearchHit, 0, len(best))
	for id, score := range best {
		entry, ok := idx.Get(id)
		if !ok {
			continue
		}
		hits = append(hits, document.SearchHit{ID: id, Name: entry.Name, Score: score})
	}
	total := len(hits)
	hits = ranker.Sort(hits, limit)

	e.logger.Debug("query executed",
		"query", plan.RawQuery,
		"terms", len(plan.Terms),
		"required", plan.RequiredMatch,
		"total_hits", total,
		"returned", len(hits),
	)
	return &SearchResult{
		Query:     plan.RawQuery,
		TotalHits: total,
		Hits:      hits,
	}, nil
}

func needsVocabulary(plan *parser.QueryPlan) bool {
	for _, qt := range plan.Terms {
		if qt.Fuzziness > 0 {
			return true
		}
	}
	return false
}

// expand lists the indexed terms within qt's edit distance, closest first.
// An exact match always scores with weight 1; a fuzzy match is weighted by
// its similarity to the query term.
func expand(qt parser.QueryTerm, vocab []string) []expansion {
	if qt.Fuzziness == 0 {
		return []expansion{{term: qt.Text, weight: 1}}
	}
	qLen := utf8.RuneCountInString(qt.Text)
	out := make([]expansion, 0)
	for _, term := range vocab {
		tLen := utf8.RuneCountInString(term)
		if abs(tLen-qLen) > qt.Fuzziness {
			continue
		}
		d := levenshtein.ComputeDistance(qt.Text, term)
		if d > qt.Fuzziness {
			continue
		}
		weight := 1.0
		if d > 0 {
			weight = 1 - float64(d)/float64(min(qLen, tLen))
		}
		if weight <= 0 {
			continue
		}
		out = append(out, expansion{term: term, distance: d, weight: weight})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].distance != out[j].distance {
			return out[i].distance < out[j].distance
		}
		return out[i].term < out[j].term
	})
	if len(out) > MaxExpansions {
		out = out[:MaxExpansions]
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
