package ytdlp

import (
	"strings"

	"vod-curator/internal/model"
)

// ClassifyErrorText maps yt-dlp error output to a failure kind. Hint order
// matters: local resource problems and anti-bot signals are checked before
// the broader auth and not-found buckets, and anything unrecognized is
// treated as transient.
func ClassifyErrorText(s string) model.FailureKind {
	text := strings.ToLower(s)

	resourceHints := []string{
		"no space left on device",
		"disk quota exceeded",
		"not enough free disk",
		"read-only file system",
	}
	for _, h := range resourceHints {
		if strings.Contains(text, h) {
			return model.FailureResourceExhausted
		}
	}

	rateHints := []string{
		"429",
		"too many requests",
		"rate limit",
		"rate-limit",
		"412",
		"precondition failed",
		"request was blocked",
		"confirm you're not a bot",
	}
	for _, h := range rateHints {
		if strings.Contains(text, h) {
			return model.FailureRateLimited
		}
	}

	authHints := []string{
		"401",
		"403",
		"unauthorized",
		"forbidden",
		"login required",
		"sign in to view",
		"cookies are no longer valid",
		"members-only",
		"premium",
		"authentication",
	}
	for _, h := range authHints {
		if strings.Contains(text, h) {
			return model.FailureAuthInvalid
		}
	}

	notFoundHints := []string{
		"404",
		"not found",
		"video unavailable",
		"private video",
		"has been removed",
		"does not exist",
		"no longer available",
		"account associated with this video has been terminated",
	}
	for _, h := range notFoundHints {
		if strings.Contains(text, h) {
			return model.FailureNotFound
		}
	}

	return model.FailureTransient
}
