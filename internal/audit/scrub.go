package audit

import "regexp"

// secretPattern pairs are combined into one alternation so a single pass
// over the text catches every known credential shape.
var secretPatterns = []string{
	`gh[pousr]_[A-Za-z0-9_]{36,}`,            // GitHub classic tokens
	`github_pat_[A-Za-z0-9_]{22,}`,           // GitHub fine-grained PATs
	`xox[bpars]-[A-Za-z0-9-]{10,}`,           // Slack tokens
	`AKIA[0-9A-Z]{16}`,                       // AWS access key IDs
	`sk-ant-[A-Za-z0-9_-]{20,}`,              // Anthropic keys
	`sk-proj-[A-Za-z0-9_-]{20,}`,             // OpenAI project keys
	`sk-[A-Za-z0-9_-]{20,}`,                  // OpenAI keys (general)
	`[sr]k_live_[A-Za-z0-9]{20,}`,            // Stripe live keys
	`[sr]k_test_[A-Za-z0-9]{20,}`,            // Stripe test keys
	`pk_(?:live|test)_[A-Za-z0-9]{20,}`,      // Stripe publishable
	`rk_(?:live|test)_[A-Za-z0-9]{20,}`,      // Stripe restricted
	`SG\.[A-Za-z0-9_-]{22}\.[A-Za-z0-9_-]{43}`, // SendGrid
	`SK[a-f0-9]{32}`,                         // Twilio
	`[0-9]{8,10}:[A-Za-z0-9_-]{35}`,          // Telegram bot tokens
	`(?:[A-Za-z0-9_-]{24}\.)[A-Za-z0-9_-]{6}\.[A-Za-z0-9_-]{27}`, // Discord bot tokens
	`Bearer\s+[A-Za-z0-9_\-.]{20,}`,          // Bearer tokens
}

var combinedSecretRE = regexp.MustCompile(compileAlternation(secretPatterns))

func compileAlternation(patterns []string) string {
	out := ""
	for i, p := range patterns {
		if i > 0 {
			out += "|"
		}
		out += "(?:" + p + ")"
	}
	return out
}

// scrubSecrets replaces every known credential pattern in text with
// "[REDACTED]". Unlike the teacher's partial-redaction scheme, matches are
// fully replaced — callers never see even a token prefix.
func scrubSecrets(text string) string {
	if text == "" {
		return text
	}
	return combinedSecretRE.ReplaceAllString(text, "[REDACTED]")
}
