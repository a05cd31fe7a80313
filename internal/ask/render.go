package ask

import (
	"fmt"
	"strings"
	"time"

	"zapask/internal/quota"
)

const (
	smartContextDisabledText = "⚠️ Please ask an admin to enable *Smart Context* to use this command."
	notInstalledText         = "⚠️ Zap is not installed in this workspace."
	genericErrorText         = "⚠️ Oops! Something went wrong while processing your request. Please try again later."

	// usage is shown in the footer once a team has used more than this many
	// requests in a day.
	usageFooterThreshold = 25
)

type footer struct {
	Query string
	Note  string
	Usage *quota.Decision
	Now   time.Time
}

// render appends the footer to an answer.
func render(answer string, f footer) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(answer))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "*You Asked:* %s", strings.TrimSpace(f.Query))
	if f.Note != "" {
		fmt.Fprintf(&b, "\n*Note:* %s", f.Note)
	}
	if f.Usage != nil && f.Usage.Used > usageFooterThreshold {
		fmt.Fprintf(&b, "\n_Your team has used %d of %d daily AI requests. Quota resets %s your time._",
			f.Usage.Used, f.Usage.Limit, quota.FormatReset(f.Usage.ResetAt, f.Now))
	}
	return b.String()
}

func quotaExceededText(d quota.Decision, now time.Time) string {
	return fmt.Sprintf("⚠️ Your team has reached the daily limit of %d AI-powered responses. Your quota will reset %s in your local time.",
		d.Limit, quota.FormatReset(d.ResetAt, now))
}
