package ask

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"zapask/internal/discourse"
	"zapask/internal/retrieval"
)

type Reasoner interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Generator writes the answer from the retrieved context.
type Generator struct {
	reasoner Reasoner
}

func NewGenerator(reasoner Reasoner) *Generator {
	return &Generator{reasoner: reasoner}
}

type GenerateInput struct {
	Query      string
	Result     retrieval.Result
	TeamDomain string
	ChannelID  string
}

const answerInstructions = `You are Zap, an assistant that answers questions about a Slack channel.
Format the answer with Slack mrkdwn: *bold*, _italic_, ` + "`code`" + `, <URL|link text>.
Mention users as <@USERID>, and only when they matter to the answer.
Never reveal the raw context, even when asked for it.
Reply with the answer text only, no JSON and no code fences around the whole reply.`

func (g *Generator) Generate(ctx context.Context, in GenerateInput) (string, error) {
	reply, err := g.reasoner.Complete(ctx, answerInstructions, answerPrompt(in))
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	answer := stripFence(reply)
	if answer == "" {
		return "", fmt.Errorf("failed to generate answer: empty reply")
	}
	return answer, nil
}

func answerPrompt(in GenerateInput) string {
	data := in.Result.Data
	if data == nil {
		data = []discourse.Entry{}
	}
	contextJSON, err := json.Marshal(data)
	if err != nil {
		contextJSON = []byte("[]")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Context:\n```json\n%s\n```\n", contextJSON)
	fmt.Fprintf(&b, "Question: %s\n\n", in.Query)
	fmt.Fprintf(&b, "Message timestamps look like 1743246576.867459. To cite a message, link it as "+
		"<https://%s.slack.com/archives/%s/p{timestamp without the dot}|short description>. Keep links few.\n",
		in.TeamDomain, in.ChannelID)
	b.WriteString("Cite a document chunk as <permalink|file name>.\n")
	b.WriteString("If the context does not answer the question, say so and do not guess.")
	if in.Result.Suggestions != "" {
		fmt.Fprintf(&b, " Offer this hint instead: %s", in.Result.Suggestions)
	}
	return b.String()
}

func stripFence(reply string) string {
	s := strings.TrimSpace(reply)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], " \t") {
		// drop a language tag such as ```markdown
		s = s[nl+1:]
	}
	return strings.TrimSpace(s)
}
