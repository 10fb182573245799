package classifier

import (
	"fmt"
	"strings"
	"time"
)

// Scoring weights. Keyword hits dominate; scope and context signals nudge.
const (
	keywordWeight        = 3
	singleFileBonus      = 2
	multiFileBonus       = 3
	shortActionBonus     = 2
	longMessageBonus     = 1
	questionBonus        = 1
	contextSignalBonus   = 3
	shortMessageMax      = 100
	longMessageThreshold = 200
	maxConfidence        = 0.95
)

// scaleLaneBonus maps a scale level to the bonus it feeds back into lane
// scoring. Negative values credit the quick lane.
func scaleLaneBonus(level int) (quick, complex int) {
	switch level {
	case 0:
		return 4, 0
	case 1:
		return 0, 0
	case 2:
		return 0, 2
	case 3:
		return 0, 4
	default:
		return 0, 6
	}
}

// Classify routes a free-text request to an execution lane.
//
// A ForceLane in the context short-circuits scoring entirely. Otherwise the
// decision rule is evaluated in order: no signal defaults to complex, a
// quick score clearly ahead (more than 1.5x) picks quick, a complex score
// ahead picks complex, and a near tie defaults to quick as the cheaper path.
func Classify(text string, ctx Context) LaneDecision {
	now := time.Now().UTC()

	if ctx.ForceLane.Valid() {
		return LaneDecision{
			Lane:       ctx.ForceLane,
			Confidence: 1.0,
			Rationale:  "manual override",
			Factors:    ExtractFactors(text),
			DecidedAt:  now,
		}
	}

	factors := ExtractFactors(text)
	scores := scoreFactors(factors, ctx)

	scale := EstimateScale(text, factors, ctx)
	qb, cb := scaleLaneBonus(scale.Level)
	scores.Quick += qb
	scores.Complex += cb

	decision := decide(factors, scores, scale)
	decision.Scale = scale
	decision.DecidedAt = now

	// Attach the score-gap refinement as a diagnostic once final scores
	// are known.
	ref := ClassifyScaleLevel(&decision.Scale, decision.Scores)
	decision.Scale.Refinement = &ref

	return decision
}

// ExtractFactors computes the raw text signals used for scoring.
func ExtractFactors(text string) Factors {
	lower := strings.ToLower(text)

	f := Factors{
		QuickKeywordHits:   countKeywordHits(lower, quickFixKeywords),
		ComplexKeywordHits: countKeywordHits(lower, complexKeywords),
		SingleFileScope:    singleFileRe.MatchString(text),
		MultiFileScope:     multiFileRe.MatchString(text),
		MessageLength:      len(text),
		HasQuestion:        strings.Contains(text, "?"),
	}
	f.ShortMessage = f.MessageLength > 0 && f.MessageLength < shortMessageMax
	f.HasActionVerb = hasAnyWord(lower, actionVerbs)
	return f
}

func countKeywordHits(lower string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return hits
}

// hasAnyWord reports whether any of the words appears as a whole token.
func hasAnyWord(lower string, words []string) bool {
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	for _, tok := range tokens {
		for _, w := range words {
			if tok == w {
				return true
			}
		}
	}
	return false
}

func scoreFactors(f Factors, ctx Context) Scores {
	var s Scores

	s.Quick += keywordWeight * f.QuickKeywordHits
	s.Complex += keywordWeight * f.ComplexKeywordHits

	if f.SingleFileScope {
		s.Quick += singleFileBonus
	}
	if f.MultiFileScope {
		s.Complex += multiFileBonus
	}
	if f.ShortMessage && f.HasActionVerb {
		s.Quick += shortActionBonus
	}
	if f.MessageLength > longMessageThreshold {
		s.Complex += longMessageBonus
	}
	if f.HasQuestion {
		s.Complex += questionBonus
	}

	if ctx.PreviousPhase != "" {
		s.Complex += contextSignalBonus
	}
	if ctx.HasExistingPRD {
		s.Complex += contextSignalBonus
	}
	if strings.EqualFold(ctx.ProjectComplexity, "high") {
		s.Complex += contextSignalBonus
	}

	return s
}

func decide(f Factors, s Scores, scale ScaleAssessment) LaneDecision {
	total := s.Quick + s.Complex

	switch {
	case total == 0:
		return LaneDecision{
			Lane:       LaneComplex,
			Confidence: 0.5,
			Rationale:  "no clear signal, defaulting to complex lane",
			Factors:    f,
			Scores:     s,
		}

	case float64(s.Quick) > 1.5*float64(s.Complex):
		conf := float64(s.Quick) / float64(total)
		if conf > maxConfidence {
			conf = maxConfidence
		}
		return LaneDecision{
			Lane:       LaneQuick,
			Confidence: conf,
			Rationale:  buildRationale(LaneQuick, f, scale),
			Factors:    f,
			Scores:     s,
		}

	case s.Complex > s.Quick:
		conf := float64(s.Complex) / float64(total)
		if f.ComplexKeywordHits > 2 {
			conf += 0.1
		}
		if conf > maxConfidence {
			conf = maxConfidence
		}
		return LaneDecision{
			Lane:       LaneComplex,
			Confidence: conf,
			Rationale:  buildRationale(LaneComplex, f, scale),
			Factors:    f,
			Scores:     s,
		}

	default:
		return LaneDecision{
			Lane:       LaneQuick,
			Confidence: 0.6,
			Rationale:  "efficiency default, can escalate",
			Factors:    f,
			Scores:     s,
		}
	}
}

// buildRationale assembles the explanation from the factors that contributed
// to the winning side, in a fixed order. Losing-side factors never appear.
func buildRationale(lane Lane, f Factors, scale ScaleAssessment) string {
	var parts []string

	if lane == LaneQuick {
		if f.QuickKeywordHits > 0 {
			parts = append(parts, fmt.Sprintf("%d quick-fix keyword(s)", f.QuickKeywordHits))
		}
		if f.SingleFileScope {
			parts = append(parts, "single-file scope")
		}
		if f.ShortMessage && f.HasActionVerb {
			parts = append(parts, "short direct request")
		}
		if scale.Level == 0 {
			parts = append(parts, "trivial scale")
		}
	} else {
		if f.ComplexKeywordHits > 0 {
			parts = append(parts, fmt.Sprintf("%d complex keyword(s)", f.ComplexKeywordHits))
		}
		if f.MultiFileScope {
			parts = append(parts, "multi-file scope")
		}
		if f.MessageLength > longMessageThreshold {
			parts = append(parts, "long request")
		}
		if f.HasQuestion {
			parts = append(parts, "open question")
		}
		if scale.Level >= 2 {
			parts = append(parts, fmt.Sprintf("scale level %d", scale.Level))
		}
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%s lane scored higher", lane)
	}
	return fmt.Sprintf("%s lane: %s", lane, strings.Join(parts, ", "))
}
