package classifier

import "regexp"

// Keyword sets and scope patterns used by factor extraction. Matching is
// case-insensitive substring matching against the whole request text.

// quickFixKeywords indicate small, mechanical changes.
var quickFixKeywords = []string{
	"typo",
	"fix",
	"rename",
	"bump",
	"tweak",
	"adjust",
	"correct",
	"broken link",
	"whitespace",
	"lint",
	"small change",
	"one-liner",
}

// complexKeywords indicate work that needs deliberation across phases.
var complexKeywords = []string{
	"architecture",
	"redesign",
	"refactor",
	"migration",
	"migrate",
	"integration",
	"authentication",
	"authorization",
	"infrastructure",
	"scalability",
	"overhaul",
	"design doc",
	"prd",
	"roadmap",
}

// actionVerbs are generic imperative verbs that, on a short message,
// suggest a direct quick-fix request.
var actionVerbs = []string{
	"fix",
	"add",
	"update",
	"change",
	"remove",
	"rename",
	"bump",
	"correct",
	"tweak",
	"adjust",
	"delete",
}

// Scale keyword tiers. Tier weight corresponds to the scale level the
// keywords are evidence for (4 = organization-wide, 3 = system-wide,
// 2 = multi-component).
var scaleKeywordTiers = []struct {
	Name     string
	Weight   int
	Keywords []string
}{
	{
		Name:   "critical",
		Weight: 4,
		Keywords: []string{
			"enterprise",
			"compliance",
			"regulatory",
			"organization-wide",
			"multi-region",
			"platform-wide",
		},
	},
	{
		Name:   "major",
		Weight: 3,
		Keywords: []string{
			"architecture",
			"migration",
			"redesign",
			"infrastructure",
			"program",
			"security audit",
		},
	},
	{
		Name:   "moderate",
		Weight: 2,
		Keywords: []string{
			"integration",
			"refactor",
			"workflow",
			"pipeline",
			"subsystem",
			"several teams",
		},
	},
}

var (
	// singleFileRe matches requests scoped to one named file or document
	// ("in readme", "in config.yaml", "to the Makefile").
	singleFileRe = regexp.MustCompile(`(?i)\b(?:in|to|of)\s+(?:the\s+)?(?:readme|changelog|makefile|dockerfile|[\w./-]+\.[a-z]{1,5})\b`)

	// multiFileRe matches requests that sweep across many files or
	// components.
	multiFileRe = regexp.MustCompile(`(?i)\b(?:across|throughout|all\s+(?:services|files|modules|packages|components|repos)|every\s+\w+|entire|whole\s+(?:codebase|system)|codebase[- ]wide)\b`)
)
