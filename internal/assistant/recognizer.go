package assistant

import (
	"context"
	"log/slog"
	"strings"

	"vassist/internal/domain"
	"vassist/internal/manifest"
)

// KeywordRecognizer classifies utterances against the trigger utterances the
// loaded skill manifests declare. It stands in for an external language
// understanding service behind the same contract.
type KeywordRecognizer struct {
	keywords map[string][]string // action id -> pre-computed lowercase keywords
	logger   *slog.Logger
}

// NewKeywordRecognizer builds a recognizer over the given manifests.
func NewKeywordRecognizer(manifests []*manifest.Manifest, logger *slog.Logger) *KeywordRecognizer {
	// Pre-compute lowercase keywords to avoid repeated ToLower on every turn.
	kw := make(map[string][]string)
	for _, m := range manifests {
		for _, a := range m.Actions {
			utterances := a.Definition.Triggers.Utterances
			lowered := make([]string, 0, len(utterances))
			for _, u := range utterances {
				u = strings.ToLower(strings.TrimSpace(u))
				if u != "" {
					lowered = append(lowered, u)
				}
			}
			kw[a.ID] = lowered
		}
	}
	return &KeywordRecognizer{keywords: kw, logger: logger}
}

// Recognize returns the best-matching action intent for the utterance. The
// zero Intent means nothing matched.
func (r *KeywordRecognizer) Recognize(ctx context.Context, utterance string) (domain.Intent, error) {
	lower := strings.ToLower(utterance)

	var bestMatch string
	var bestScore int

	for action, keywords := range r.keywords {
		score := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestMatch = action
		}
	}

	if bestScore == 0 {
		return domain.Intent{}, nil
	}
	r.logger.Debug("recognizer matched action", "action", bestMatch, "score", bestScore)
	return domain.Intent{Name: bestMatch, Score: float64(bestScore)}, nil
}
