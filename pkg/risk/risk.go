// Package risk is the first gate of the pipeline: it detects injection
// syntax, extracts the core question, and classifies intent. The safety
// decision is made on the extracted core question, never on raw input —
// injection tokens alone are not a refusal, unsafe intent is.
package risk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/groundline/groundline/pkg/config"
)

// Level grades how dangerous it is to answer a question.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Category names why a level was assigned.
type Category string

const (
	CategoryGeneral      Category = "general"
	CategorySafetyBypass Category = "safety_bypass"
	CategoryOutOfScope   Category = "out_of_scope"
	CategoryInjection    Category = "injection"
	CategoryEmergency    Category = "emergency"
)

// Machine-readable refusal reasons shared with the response layer.
const (
	ReasonOutOfScope    = "out_of_scope"
	ReasonUnsafeIntent  = "unsafe_intent"
	ReasonInjection     = "injection"
	ReasonTooLong       = "too_long"
	ReasonInvalidFormat = "invalid_format"
)

// Assessment is the intent classification of a cleaned question.
type Assessment struct {
	Level           Level    `json:"level"`
	Category        Category `json:"category"`
	MatchedPatterns []string `json:"matched_patterns,omitempty"`
}

// InjectionReport describes detected injection syntax and the question that
// remains once it is stripped.
type InjectionReport struct {
	HasInjectionSyntax bool     `json:"has_injection_syntax"`
	CoreQuestion       string   `json:"core_question"`
	MatchedPatterns    []string `json:"matched_patterns,omitempty"`
}

// ActionKind is the triage outcome.
type ActionKind int

const (
	ActionProceed ActionKind = iota
	ActionRefuse
)

// Action carries either the cleaned question to process or a structured
// refusal.
type Action struct {
	Kind            ActionKind
	CleanQuestion   string
	RefuseReason    string
	Message         string
	MatchedPatterns []string
}

// Assessor holds the compiled policy pack.
type Assessor struct {
	injection     []*regexp.Regexp
	injectionRaw  []string
	emergency     []string
	safetyBypass  []string
	outOfScope    []string
	maxQueryChars int
	hardRefuseOOS bool
}

// NewAssessor compiles the policy pack. Invalid injection patterns are a
// configuration error, not a runtime degradation.
func NewAssessor(policy config.Policy, maxQueryChars int, hardRefuseOOS bool) (*Assessor, error) {
	a := &Assessor{
		emergency:     lowerAll(policy.Emergency),
		safetyBypass:  lowerAll(policy.SafetyBypass),
		outOfScope:    lowerAll(policy.OutOfScope),
		maxQueryChars: maxQueryChars,
		hardRefuseOOS: hardRefuseOOS,
	}
	for _, p := range policy.Injection {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile injection pattern %q: %w", p, err)
		}
		a.injection = append(a.injection, re)
		a.injectionRaw = append(a.injectionRaw, p)
	}
	return a, nil
}

// DetectInjection strips injection syntax and returns the core question.
// Extraction is idempotent: running it on its own output is a no-op.
func (a *Assessor) DetectInjection(q string) InjectionReport {
	core := q
	matched := make([]string, 0, 2)
	for i, re := range a.injection {
		if re.MatchString(core) {
			matched = append(matched, a.injectionRaw[i])
			core = re.ReplaceAllString(core, " ")
		}
	}
	core = collapseScaffolding(core)
	if len(matched) == 0 {
		return InjectionReport{CoreQuestion: q}
	}
	return InjectionReport{
		HasInjectionSyntax: true,
		CoreQuestion:       core,
		MatchedPatterns:    matched,
	}
}

// Assess classifies the cleaned question against the curated term lists.
func (a *Assessor) Assess(qClean string) Assessment {
	lc := strings.ToLower(qClean)

	if hits := matchTerms(lc, a.emergency); len(hits) > 0 {
		return Assessment{Level: LevelCritical, Category: CategoryEmergency, MatchedPatterns: hits}
	}
	if hits := matchTerms(lc, a.safetyBypass); len(hits) > 0 {
		return Assessment{Level: LevelCritical, Category: CategorySafetyBypass, MatchedPatterns: hits}
	}
	if hits := matchTerms(lc, a.outOfScope); len(hits) > 0 {
		return Assessment{Level: LevelMedium, Category: CategoryOutOfScope, MatchedPatterns: hits}
	}
	return Assessment{Level: LevelLow, Category: CategoryGeneral}
}

// Triage composes detection and assessment into a proceed/refuse action.
// Nothing downstream runs on a refused question.
func (a *Assessor) Triage(qRaw string) (Action, Assessment, InjectionReport) {
	if strings.TrimSpace(qRaw) == "" {
		return refuse(ReasonInvalidFormat, "The question is empty.", nil), Assessment{}, InjectionReport{}
	}
	if a.maxQueryChars > 0 && len([]rune(qRaw)) > a.maxQueryChars {
		msg := fmt.Sprintf("The question exceeds the %d character limit.", a.maxQueryChars)
		return refuse(ReasonTooLong, msg, nil), Assessment{}, InjectionReport{}
	}

	inj := a.DetectInjection(qRaw)
	qClean := inj.CoreQuestion

	if strings.TrimSpace(qClean) == "" {
		if inj.HasInjectionSyntax {
			return refuse(ReasonInjection, "No answerable question remains after removing instruction-injection syntax.", inj.MatchedPatterns), Assessment{}, inj
		}
		return refuse(ReasonInvalidFormat, "The question is empty.", nil), Assessment{}, inj
	}

	assessment := a.Assess(qClean)
	switch {
	case assessment.Level == LevelCritical && assessment.Category == CategoryEmergency:
		msg := "This looks like an emergency. Stop and follow your emergency procedures or contact emergency services; this assistant cannot help with active emergencies."
		return refuse(ReasonUnsafeIntent, msg, assessment.MatchedPatterns), assessment, inj
	case assessment.Level == LevelCritical:
		msg := "This request asks to defeat or bypass a safety system, which this assistant will not help with."
		return refuse(ReasonUnsafeIntent, msg, assessment.MatchedPatterns), assessment, inj
	case assessment.Category == CategoryOutOfScope && a.hardRefuseOOS:
		msg := "This question is outside the indexed reference material."
		return refuse(ReasonOutOfScope, msg, assessment.MatchedPatterns), assessment, inj
	}

	return Action{Kind: ActionProceed, CleanQuestion: qClean}, assessment, inj
}

func refuse(reason, message string, patterns []string) Action {
	return Action{
		Kind:            ActionRefuse,
		RefuseReason:    reason,
		Message:         message,
		MatchedPatterns: patterns,
	}
}

func matchTerms(lc string, terms []string) []string {
	var hits []string
	for _, t := range terms {
		if strings.Contains(lc, t) {
			hits = append(hits, t)
		}
	}
	return hits
}

var multiSpaceRE = regexp.MustCompile(`\s+`)

// collapseScaffolding tidies the remainder after span removal: collapse
// whitespace and drop orphaned connective punctuation at the edges.
func collapseScaffolding(s string) string {
	s = multiSpaceRE.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ":;,-")
	return strings.TrimSpace(s)
}

func lowerAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
