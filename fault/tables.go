package fault

import "strings"

// substringRule maps a known error-message phrase to a kind. Rules are
// checked in order; the first match wins.
type substringRule struct {
	phrase string
	kind   Kind
}

var substringRules = []substringRule{
	{"Failed to fetch", KindNetwork},
	{"connection refused", KindNetwork},
	{"no such host", KindNetwork},
	{"connection reset", KindNetwork},
	{"Unauthorized", KindAuthentication},
	{"invalid token", KindAuthentication},
	{"Forbidden", KindAuthorization},
	{"Too Many Requests", KindRateLimit},
	{"rate limit", KindRateLimit},
	{"timed out", KindTimeout},
	{"deadline exceeded", KindTimeout},
	{"validation failed", KindValidation},
}

// matchSubstring returns the kind for the first rule whose phrase occurs
// in the message, or KindUnknown when none match.
func matchSubstring(msg string) Kind {
	lower := strings.ToLower(msg)
	for _, r := range substringRules {
		if strings.Contains(lower, strings.ToLower(r.phrase)) {
			return r.kind
		}
	}
	return KindUnknown
}

// statusKind maps a transport status code to a kind.
func statusKind(code int) Kind {
	switch {
	case code == 401:
		return KindAuthentication
	case code == 403:
		return KindAuthorization
	case code == 429:
		return KindRateLimit
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindClient
	default:
		return KindUnknown
	}
}

// kindProfiles holds the default severity, recoverability and
// retryability for each kind. Every kind the classifier can resolve to
// has an entry; KindUnknown is the fallback.
var kindProfiles = map[Kind]profile{
	KindNetwork:        {SeverityMedium, true, true},
	KindOffline:        {SeverityLow, true, false},
	KindAuthentication: {SeverityHigh, true, false},
	KindAuthorization:  {SeverityHigh, false, false},
	KindRateLimit:      {SeverityMedium, true, true},
	KindServer:         {SeverityHigh, true, true},
	KindClient:         {SeverityMedium, true, false},
	KindTimeout:        {SeverityMedium, true, true},
	KindValidation:     {SeverityLow, true, false},
	KindUnknown:        {SeverityMedium, true, false},
}

// userMessages maps a kind to the message shown to the user.
var userMessages = map[Kind]string{
	KindNetwork:        "We're having trouble reaching the service. Check your connection and try again.",
	KindOffline:        "You're offline. We'll send your request as soon as you're back online.",
	KindAuthentication: "Your session has expired. Please sign in again.",
	KindAuthorization:  "You don't have permission to do that.",
	KindRateLimit:      "You're sending requests too quickly. Please wait a moment.",
	KindServer:         "The service hit a problem on its end. Please try again shortly.",
	KindClient:         "The request couldn't be processed. Please review it and try again.",
	KindTimeout:        "The request took too long. Please try again.",
	KindValidation:     "Some of the provided information is invalid.",
	KindUnknown:        "Something went wrong. Please try again.",
}

// suggestedActions maps a kind to remediation steps, most useful first.
var suggestedActions = map[Kind][]string{
	KindNetwork:        {"Check your internet connection", "Try again in a few seconds"},
	KindOffline:        {"Reconnect to the network", "Your request is queued and will be retried automatically"},
	KindAuthentication: {"Sign in again"},
	KindAuthorization:  {"Contact your administrator for access"},
	KindRateLimit:      {"Wait before retrying", "Reduce how often you send requests"},
	KindServer:         {"Try again shortly", "Contact support if the problem persists"},
	KindClient:         {"Review the request and correct any mistakes"},
	KindTimeout:        {"Try again", "Check your connection speed"},
	KindValidation:     {"Correct the highlighted fields"},
	KindUnknown:        {"Try again", "Contact support if the problem persists"},
}

// messageFor never fails: unknown kinds fall back to the KindUnknown entry.
func messageFor(kind Kind) string {
	if m, ok := userMessages[kind]; ok {
		return m
	}
	return userMessages[KindUnknown]
}

// actionsFor returns a copy of the suggested actions for a kind.
func actionsFor(kind Kind) []string {
	src, ok := suggestedActions[kind]
	if !ok {
		src = suggestedActions[KindUnknown]
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// profileFor returns the classification profile for a kind.
func profileFor(kind Kind) profile {
	if p, ok := kindProfiles[kind]; ok {
		return p
	}
	return kindProfiles[KindUnknown]
}
