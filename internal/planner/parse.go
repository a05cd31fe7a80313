package planner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"zapask/internal/timeutil"
)

var ErrMalformedPlan = errors.New("malformed plan")

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON finds the plan object in a model reply, fenced or not.
func extractJSON(reply string) string {
	if m := fencedJSON.FindStringSubmatch(reply); m != nil {
		return m[1]
	}
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start >= 0 && end > start {
		return reply[start : end+1]
	}
	return reply
}

type wirePlan struct {
	QueryAnalysis struct {
		OriginalQuery   string   `json:"original_query"`
		CorrectedQuery  string   `json:"corrected_query"`
		BroadenedQuery  string   `json:"broadened_query"`
		TSQuery         string   `json:"postgreSQL_ts_query"`
		DetectedIntents []string `json:"detected_intents"`
	} `json:"query_analysis"`
	ExecutionPlan struct {
		PrimaryFunction   *wireCall  `json:"primary_function"`
		FallbackFunctions []wireCall `json:"fallback_functions"`
	} `json:"execution_plan"`
}

type wireCall struct {
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Confidence float64         `json:"confidence"`
}

type wireArgs struct {
	StartTS     timeutil.Value `json:"startTs"`
	EndTS       timeutil.Value `json:"endTs"`
	FileNames   stringList     `json:"fileNames"`
	IncludeDocs looseBool      `json:"includeDocs"`
	WindowSize  float64        `json:"windowSize"`
}

// looseBool accepts true/false as JSON booleans or strings.
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(strings.ToLower(string(bytes.TrimSpace(data))), `"`) {
	case "true", "yes", "1":
		*b = true
	case "false", "no", "0", "null", "":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// stringList accepts either a JSON array of strings or a single string.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

func (w wireCall) toStep() (Step, error) {
	var args wireArgs
	if len(w.Arguments) > 0 && !bytes.Equal(bytes.TrimSpace(w.Arguments), []byte("null")) {
		if err := json.Unmarshal(w.Arguments, &args); err != nil {
			return Step{}, fmt.Errorf("%w: arguments of %s: %v", ErrMalformedPlan, w.Name, err)
		}
	}

	var c Call
	switch w.Name {
	case FuncAnalyzeDocuments:
		c = AnalyzeDocuments{FileNames: cleanNames(args.FileNames), Start: args.StartTS, End: args.EndTS}
	case FuncSummarizeConversation:
		c = SummarizeConversation{Start: args.StartTS, End: args.EndTS, IncludeDocs: bool(args.IncludeDocs)}
	case FuncHybridSearch:
		c = HybridSearch{Start: args.StartTS, End: args.EndTS, WindowSize: int(args.WindowSize)}
	default:
		return Step{}, fmt.Errorf("%w: unknown function %q", ErrMalformedPlan, w.Name)
	}
	return Step{Call: c, Confidence: w.Confidence}, nil
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// ParsePlan decodes a planning reply. The primary function must be known;
// unusable fallbacks are dropped. Missing rewrites fall back to the query.
func ParsePlan(query, reply string) (Plan, error) {
	var w wirePlan
	if err := json.Unmarshal([]byte(extractJSON(reply)), &w); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
	}
	if w.ExecutionPlan.PrimaryFunction == nil {
		return Plan{}, fmt.Errorf("%w: no primary function", ErrMalformedPlan)
	}

	primary, err := w.ExecutionPlan.PrimaryFunction.toStep()
	if err != nil {
		return Plan{}, err
	}

	var fallbacks []Step
	for _, fc := range w.ExecutionPlan.FallbackFunctions {
		if step, err := fc.toStep(); err == nil {
			fallbacks = append(fallbacks, step)
		}
	}

	q := strings.TrimSpace(query)
	qa := w.QueryAnalysis
	analysis := Analysis{
		Original:     firstNonEmpty(qa.OriginalQuery, q),
		Corrected:    firstNonEmpty(qa.CorrectedQuery, q),
		KeywordQuery: sanitizeKeywordQuery(qa.TSQuery),
		Intents:      qa.DetectedIntents,
	}
	analysis.Broadened = firstNonEmpty(qa.BroadenedQuery, analysis.Corrected)
	if analysis.KeywordQuery == "" {
		analysis.KeywordQuery = conjoinTerms(analysis.Broadened)
	}

	return Plan{
		Analysis:  analysis,
		Primary:   primary,
		Fallbacks: fallbacks,
		Source:    SourcePlanned,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
