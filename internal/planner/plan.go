package planner

import (
	"strings"
	"unicode"

	"zapask/internal/timeutil"
)

const (
	FuncAnalyzeDocuments      = "analyzeDocuments"
	FuncSummarizeConversation = "summarizeConversation"
	FuncHybridSearch          = "hybridSearch"
)

// Call is one of the retrieval functions with its typed arguments. The set
// is closed: AnalyzeDocuments, SummarizeConversation and HybridSearch.
type Call interface {
	Name() string
	TimeArgs() (start, end timeutil.Value)
	call()
}

type AnalyzeDocuments struct {
	FileNames []string
	Start     timeutil.Value
	End       timeutil.Value
}

type SummarizeConversation struct {
	Start       timeutil.Value
	End         timeutil.Value
	IncludeDocs bool
}

type HybridSearch struct {
	Start      timeutil.Value
	End        timeutil.Value
	WindowSize int
}

func (AnalyzeDocuments) Name() string      { return FuncAnalyzeDocuments }
func (SummarizeConversation) Name() string { return FuncSummarizeConversation }
func (HybridSearch) Name() string          { return FuncHybridSearch }

func (c AnalyzeDocuments) TimeArgs() (timeutil.Value, timeutil.Value)      { return c.Start, c.End }
func (c SummarizeConversation) TimeArgs() (timeutil.Value, timeutil.Value) { return c.Start, c.End }
func (c HybridSearch) TimeArgs() (timeutil.Value, timeutil.Value)          { return c.Start, c.End }

func (AnalyzeDocuments) call()      {}
func (SummarizeConversation) call() {}
func (HybridSearch) call()          {}

type Step struct {
	Call       Call
	Confidence float64
}

// Analysis holds the query rewrites shared by every step of a plan.
type Analysis struct {
	Original     string
	Corrected    string
	Broadened    string
	KeywordQuery string
	Intents      []string
}

type Source string

const (
	SourcePlanned Source = "planned"
	SourceDefault Source = "default"
)

type Plan struct {
	Analysis  Analysis
	Primary   Step
	Fallbacks []Step
	Source    Source
}

// Fallback is the single fallback step the executor may run.
func (p Plan) Fallback() (Step, bool) {
	if len(p.Fallbacks) == 0 {
		return Step{}, false
	}
	return p.Fallbacks[0], true
}

// DefaultPlan searches for the literal query terms with no time bound.
func DefaultPlan(query string) Plan {
	q := strings.TrimSpace(query)
	return Plan{
		Analysis: Analysis{
			Original:     q,
			Corrected:    q,
			Broadened:    q,
			KeywordQuery: conjoinTerms(q),
		},
		Primary: Step{
			Call:       HybridSearch{Start: timeutil.Null, End: timeutil.Null},
			Confidence: 0.5,
		},
		Source: SourceDefault,
	}
}

func conjoinTerms(query string) string {
	var terms []string
	for _, f := range strings.Fields(sanitizeKeywordQuery(query)) {
		term := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if term != "" {
			terms = append(terms, term)
		}
	}
	return strings.Join(terms, " & ")
}

// sanitizeKeywordQuery strips characters the keyword grammar does not allow.
func sanitizeKeywordQuery(q string) string {
	return strings.TrimSpace(strings.NewReplacer(`"`, "", `'`, "", `\`, "", "`", "").Replace(q))
}
