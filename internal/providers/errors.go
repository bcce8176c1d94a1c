package providers

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/language"

	"mediagen/internal/domain"
)

// ClassifyHTTP maps a provider HTTP status onto the shared error taxonomy.
// Network failures and 5xx are transient and eligible for retry; 4xx other
// than rate-limit/auth are permanent.
func ClassifyHTTP(status int) domain.ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.KindProviderAuthFailed
	case status == http.StatusTooManyRequests:
		return domain.KindProviderRateLimited
	case status >= 500 || status == 0:
		return domain.KindProviderTransientError
	default:
		return domain.KindProviderPermanentError
	}
}

// policyCategory pairs a stable sub-category key with the provider free-text
// keywords that identify it.
type policyCategory struct {
	key      string
	keywords []string
}

// Keyword tables are matched in order; the first hit wins.
var policyCategories = []policyCategory{
	{key: "sensitive_content", keywords: []string{"sensitive", "risk control", "banned prompt"}},
	{key: "sexual_content", keywords: []string{"sexual", "nudity", "nsfw"}},
	{key: "violence", keywords: []string{"violence", "gore", "graphic"}},
	{key: "public_figure", keywords: []string{"public figure", "celebrity", "real person"}},
	{key: "copyright", keywords: []string{"copyright", "trademark", "intellectual property"}},
}

var policyMessages = map[string]map[language.Tag]string{
	"sensitive_content": {
		language.English:    "The prompt was rejected by the provider's content policy.",
		language.Indonesian: "Prompt ditolak oleh kebijakan konten penyedia.",
		language.Chinese:    "提示词未通过服务方内容审核。",
	},
	"sexual_content": {
		language.English:    "The prompt was rejected for sexual content.",
		language.Indonesian: "Prompt ditolak karena konten seksual.",
		language.Chinese:    "提示词因涉及色情内容被拒绝。",
	},
	"violence": {
		language.English:    "The prompt was rejected for violent content.",
		language.Indonesian: "Prompt ditolak karena konten kekerasan.",
		language.Chinese:    "提示词因涉及暴力内容被拒绝。",
	},
	"public_figure": {
		language.English:    "The prompt was rejected for referencing a real person.",
		language.Indonesian: "Prompt ditolak karena merujuk pada orang nyata.",
		language.Chinese:    "提示词因涉及真实人物被拒绝。",
	},
	"copyright": {
		language.English:    "The prompt was rejected for copyrighted material.",
		language.Indonesian: "Prompt ditolak karena materi berhak cipta.",
		language.Chinese:    "提示词因涉及版权内容被拒绝。",
	},
}

var policyTags = []language.Tag{
	language.English,
	language.Indonesian,
	language.Chinese,
}

var policyMatcher = language.NewMatcher(policyTags)

// PolicyCategory derives a stable sub-category key from provider free text.
func PolicyCategory(message string) (string, bool) {
	lower := strings.ToLower(message)
	for _, cat := range policyCategories {
		for _, kw := range cat.keywords {
			if strings.Contains(lower, kw) {
				return cat.key, true
			}
		}
	}
	return "", false
}

// PolicyViolation builds a content-policy JobError with a human-readable,
// localizable message. The provider's raw text is preserved alongside the
// translated category so the original reason is never lost.
func PolicyViolation(locale, rawMessage string) domain.JobError {
	category, ok := PolicyCategory(rawMessage)
	if !ok {
		category = "sensitive_content"
	}
	_, idx := language.MatchStrings(policyMatcher, locale)
	msg := policyMessages[category][policyTags[idx]]
	if msg == "" {
		msg = policyMessages[category][language.English]
	}
	return domain.JobError{
		Kind:    domain.KindProviderContentPolicy,
		Message: fmt.Sprintf("%s (%s: %s)", msg, category, strings.TrimSpace(rawMessage)),
	}
}
