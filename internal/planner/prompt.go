package planner

import (
	"fmt"
	"strings"
	"time"
)

type functionSpec struct {
	name        string
	description string
	parameters  []string
	constraints string
	examples    []string
}

var functionSpecs = []functionSpec{
	{
		name:        FuncSummarizeConversation,
		description: "Summarizes messages in a channel over a specified time range",
		parameters: []string{
			"startTs: string|null - ISO timestamp",
			"endTs: string|null - ISO timestamp",
			"includeDocs: boolean - Whether to include document references",
		},
		constraints: "Time range should be within the last 15 days",
		examples: []string{
			"Summarize recent discussions in this channel",
			"What was discussed yesterday?",
			"Give me a summary of conversations from last week",
		},
	},
	{
		name:        FuncAnalyzeDocuments,
		description: "Analyzes specific documents in a channel",
		parameters: []string{
			"fileNames: Array<string> - Names of files to analyze",
			"startTs: string|null - ISO timestamp",
			"endTs: string|null - ISO timestamp",
		},
		constraints: "Limited to 2 files at once",
		examples: []string{
			"What's in the product-roadmap.pdf file?",
			"Analyze the meeting-notes.docx file",
			"What does the marketing-strategy.docx contain?",
		},
	},
	{
		name:        FuncHybridSearch,
		description: "Performs semantic and keyword search across messages and documents",
		parameters: []string{
			"startTs: string|null - ISO timestamp",
			"endTs: string|null - ISO timestamp",
			"windowSize: number - Number of surrounding messages to include around each match",
		},
		constraints: "None",
		examples: []string{
			"Find information about the budget approval process",
			"When did we discuss the new product launch?",
			"Who mentioned issues with the authentication system?",
		},
	},
}

const planningInstructions = `You are an intelligent function planner for a Slack assistant.

Your tasks:
1. Analyze the intent behind the query.
2. Determine whether the query needs to be corrected or broadened for better results.
3. Select the most appropriate function to handle the query, plus fallbacks.
4. Determine the arguments for each function.
5. If a time range is mentioned, resolve it relative to the current date, which is %s.
6. Use null for startTs and endTs when no time range is needed.
7. Convert the broadened query into a PostgreSQL tsquery for keyword search.

TSQUERY RULES:
- Single words as-is: error -> error
- AND with &: network issue -> network & issue
- OR with |: quick speed -> quick|speed
- Negation with ! and parentheses: transactions not balance inquiry -> transactions & !(balance & inquiry)
- Group complex expressions: (error|failure) & (system|network) & !maintenance
- Never use quotes or backslashes.
- Prefer | over & for better recall.

Available functions:
%s
Respond with a single JSON object and nothing else:
{
  "query_analysis": {
    "original_query": "the original query",
    "corrected_query": "the corrected query",
    "broadened_query": "the broadened query for vector search",
    "postgreSQL_ts_query": "the tsquery for keyword search",
    "detected_intents": ["intent"]
  },
  "execution_plan": {
    "primary_function": {
      "name": "functionName",
      "arguments": {"startTs": null, "endTs": null},
      "confidence": 0.95
    },
    "fallback_functions": [
      {"name": "fallbackFunction", "arguments": {}, "confidence": 0.75}
    ]
  }
}`

func describeFunctions() string {
	var b strings.Builder
	for _, f := range functionSpecs {
		fmt.Fprintf(&b, "\n%s:\n  Description: %s\n  Parameters:\n", f.name, f.description)
		for _, p := range f.parameters {
			fmt.Fprintf(&b, "    %s\n", p)
		}
		fmt.Fprintf(&b, "  Constraints: %s\n  Example queries:\n", f.constraints)
		for _, ex := range f.examples {
			fmt.Fprintf(&b, "    - %q\n", ex)
		}
	}
	return b.String()
}

func systemPrompt(now time.Time) string {
	return fmt.Sprintf(planningInstructions, now.UTC().Format(time.RFC3339), describeFunctions())
}

func userPrompt(query string) string {
	return fmt.Sprintf("Input Query: %q", query)
}
