package classifier

import (
	"fmt"
	"math"
	"strings"
)

const (
	scaleBaseline          = 2
	complexHitScaleWeight  = 2
	quickHitScaleDeduction = 2
	singleFileDeduction    = 2
	longTextThreshold      = 400
	veryLongTextThreshold  = 800
	lengthScaleBonus       = 2
	highComplexityBonus    = 2
	enterpriseScaleBonus   = 3
	midWorkflowBonus       = 1
)

// Level thresholds for mapping the raw score to an ordinal level.
var scaleLevelThresholds = []struct {
	MinScore int
	Level    int
}{
	{12, 4},
	{8, 3},
	{4, 2},
	{2, 1},
}

// EstimateScale assigns an ordinal 0-4 level to a request from keyword
// tiers, classifier factors, and request context. Every adjustment is
// recorded as a contribution or deduction so the score can be audited.
func EstimateScale(text string, factors Factors, ctx Context) ScaleAssessment {
	lower := strings.ToLower(text)

	a := ScaleAssessment{
		KeywordMatches: map[string][]string{},
	}

	score := scaleBaseline
	a.Contributions = append(a.Contributions, ScaleSignal{
		Description: "baseline",
		Value:       scaleBaseline,
	})

	for _, tier := range scaleKeywordTiers {
		var matched []string
		for _, kw := range tier.Keywords {
			if strings.Contains(lower, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}
		a.KeywordMatches[tier.Name] = matched
		v := len(matched) * tier.Weight
		score += v
		a.Contributions = append(a.Contributions, ScaleSignal{
			Description: fmt.Sprintf("%s keywords (%s)", tier.Name, strings.Join(matched, ", ")),
			Value:       v,
		})
	}

	if factors.ComplexKeywordHits > 0 {
		v := factors.ComplexKeywordHits * complexHitScaleWeight
		score += v
		a.Contributions = append(a.Contributions, ScaleSignal{
			Description: "complex keyword hits",
			Value:       v,
		})
	}
	if factors.MultiFileScope {
		score++
		a.Contributions = append(a.Contributions, ScaleSignal{
			Description: "multi-file scope",
			Value:       1,
		})
	}
	if factors.MessageLength > longTextThreshold {
		score += lengthScaleBonus
		a.Contributions = append(a.Contributions, ScaleSignal{
			Description: "long request text",
			Value:       lengthScaleBonus,
		})
	}
	if factors.MessageLength > veryLongTextThreshold {
		score += lengthScaleBonus
		a.Contributions = append(a.Contributions, ScaleSignal{
			Description: "very long request text",
			Value:       lengthScaleBonus,
		})
	}
	if strings.EqualFold(ctx.ProjectComplexity, "high") {
		score += highComplexityBonus
		a.Contributions = append(a.Contributions, ScaleSignal{
			Description: "high project complexity",
			Value:       highComplexityBonus,
		})
	}
	if strings.EqualFold(ctx.ProgramScale, "enterprise") {
		score += enterpriseScaleBonus
		a.Contributions = append(a.Contributions, ScaleSignal{
			Description: "enterprise program scale",
			Value:       enterpriseScaleBonus,
		})
	}
	if ctx.PreviousPhase != "" {
		score += midWorkflowBonus
		a.Contributions = append(a.Contributions, ScaleSignal{
			Description: "mid-workflow escalation",
			Value:       midWorkflowBonus,
		})
	}

	if factors.QuickKeywordHits > 0 {
		v := factors.QuickKeywordHits * quickHitScaleDeduction
		score -= v
		a.Deductions = append(a.Deductions, ScaleSignal{
			Description: "quick-fix keyword hits",
			Value:       v,
		})
	}
	if factors.SingleFileScope {
		score -= singleFileDeduction
		a.Deductions = append(a.Deductions, ScaleSignal{
			Description: "single-file scope",
			Value:       singleFileDeduction,
		})
	}
	if score < 0 {
		score = 0
	}

	a.Score = score
	a.Level = levelForScore(score)
	return a
}

func levelForScore(score int) int {
	for _, t := range scaleLevelThresholds {
		if score >= t.MinScore {
			return t.Level
		}
	}
	return 0
}

// ClassifyScaleLevel refines a scale level using the classifier's final
// score gap. The result is diagnostic: a strong complex advantage raises
// the floor to level 3, a strong quick advantage lowers the level by one
// (never below 1). It never replaces the keyword-weighted level.
func ClassifyScaleLevel(a *ScaleAssessment, scores Scores) ScaleRefinement {
	gap := scores.Complex - scores.Quick
	level := a.Level
	reason := ""

	switch {
	case gap > 4:
		if level < 3 {
			level = 3
		}
		reason = "complex scoring advantage"
	case gap < -3:
		if level > 1 {
			level--
		}
		reason = "quick scoring advantage"
	}

	signals := len(a.Contributions) + len(a.Deductions)
	conf := 0.3 + math.Abs(float64(gap))/10 + 0.1*float64(signals)
	if conf > 1 {
		conf = 1
	}

	return ScaleRefinement{
		Level:      level,
		Confidence: conf,
		Reason:     reason,
	}
}
