package text

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

var (
	slackLinkRe = regexp.MustCompile(`<(https?://[^>|]+)\|([^>]+)>`)
	mdLinkRe    = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)]+)\)`)
	htmlLinkRe  = regexp.MustCompile(`<a\s+href=["']([^"']+)["'][^>]*>([^<]+)</a>`)
	urlRe       = regexp.MustCompile("https?://[^\\s<>\"{}|\\\\^`\\[\\]]+")
	cleanRe     = regexp.MustCompile(`[^\w\s\p{L}\p{M}\p{N}.,\-_:/?=&%]`)
	spaceRe     = regexp.MustCompile(`[ \t]+`)
	domainRe    = regexp.MustCompile(`(?:[a-zA-Z0-9][a-zA-Z0-9-]*\.)+[a-zA-Z]{2,}`)
)

// ProcessText normalizes a message body for LLM consumption: links are
// rewritten to "url - label" form, bare URLs survive untouched and anything
// outside letters, digits, whitespace and basic punctuation is dropped.
func ProcessText(text string) string {
	return filterSpecialChars(text)
}

// TimestampToRFC3339 converts a Slack "seconds.microseconds" timestamp to an
// RFC3339 UTC string with second precision.
func TimestampToRFC3339(ts string) (string, error) {
	parts := strings.Split(ts, ".")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid slack timestamp format: %s", ts)
	}

	seconds, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid slack timestamp format: %s", ts)
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return "", fmt.Errorf("invalid slack timestamp format: %s", ts)
	}

	return time.Unix(seconds, 0).UTC().Format("2006-01-02T15:04:05Z"), nil
}

// Workspace extracts the workspace name from a Slack URL like
// https://myteam.slack.com/.
func Workspace(slackURL string) (string, error) {
	parsed, err := url.Parse(slackURL)
	if err != nil {
		return "", fmt.Errorf("invalid Slack URL %q: %w", slackURL, err)
	}

	parts := strings.Split(parsed.Hostname(), ".")
	if len(parts) < 3 {
		return "", fmt.Errorf("invalid Slack URL %q", slackURL)
	}

	return parts[0], nil
}

// AttachmentsToText flattens message attachments into a single descriptive
// string. Returns "" when there is nothing to describe; otherwise the result
// is prefixed with ". " when msgText is non-empty so it can be appended
// directly to the message body.
func AttachmentsToText(msgText string, attachments []slack.Attachment) string {
	if len(attachments) == 0 {
		return ""
	}

	var descriptions []string
	for _, att := range attachments {
		if plain := attachmentToText(att); plain != "" {
			descriptions = append(descriptions, plain)
		}
	}

	if len(descriptions) == 0 {
		return ""
	}

	prefix := ""
	if msgText != "" {
		prefix = ". "
	}
	return prefix + strings.Join(descriptions, ", ")
}

func attachmentToText(att slack.Attachment) string {
	var parts []string

	if att.Title != "" {
		parts = append(parts, "Title: "+att.Title)
	}
	if att.AuthorName != "" {
		parts = append(parts, "Author: "+att.AuthorName)
	}
	if att.Pretext != "" {
		parts = append(parts, "Pretext: "+att.Pretext)
	}
	if att.Text != "" {
		parts = append(parts, "Text: "+att.Text)
	}
	if att.Footer != "" {
		tsVal := att.Ts.String()
		if tsVal != "" && !strings.Contains(tsVal, ".") {
			tsVal += ".000000"
		}
		tsStr, err := TimestampToRFC3339(tsVal)
		if err != nil {
			tsStr = ""
		}
		parts = append(parts, "Footer: "+att.Footer+" @ "+tsStr)
	}

	result := strings.Join(parts, "; ")
	replacer := strings.NewReplacer("\n", " ", "\r", " ", "\t", " ", "(", "[", ")", "]")
	return strings.TrimSpace(replacer.Replace(result))
}

// FilesToText extracts a description from email files shared in a message.
// Non-email files are described elsewhere (fileCount, attachment tool).
func FilesToText(files []slack.File) string {
	var out []string
	for _, f := range files {
		if f.Filetype != "email" && f.Mode != "email" {
			continue
		}

		parts := []string{"Email"}
		if s := emailUsersToText(f.From); s != "" {
			parts = append(parts, "From: "+s)
		}
		if s := emailUsersToText(f.Cc); s != "" {
			parts = append(parts, "CC: "+s)
		}
		subject := f.Subject
		if subject == "" {
			subject = f.Title
		}
		if subject != "" {
			parts = append(parts, "Subject: "+subject)
		}

		out = append(out, strings.Join(parts, ", "))
	}
	return strings.Join(out, " ")
}

func emailUsersToText(users []slack.EmailFileUserInfo) string {
	var entries []string
	for _, u := range users {
		addr := strings.ReplaceAll(u.Address, "@", " at ")
		switch {
		case u.Name != "" && addr != "":
			entries = append(entries, u.Name+" - "+addr)
		case u.Name != "":
			entries = append(entries, u.Name)
		case addr != "":
			entries = append(entries, addr)
		}
	}
	return strings.Join(entries, "/")
}

// IsUnfurlingEnabled decides whether links in text may be unfurled. The opt
// value is either a boolean-ish switch ("true", "1", "yes") or a comma
// separated list of domains; in list mode every domain mentioned in the text
// must be on the list.
func IsUnfurlingEnabled(text, opt string, logger *zap.Logger) bool {
	v := strings.ToLower(strings.TrimSpace(opt))
	switch v {
	case "true", "1", "yes":
		return true
	case "":
		return false
	}

	allowed := make(map[string]bool)
	for _, d := range strings.Split(v, ",") {
		if d = strings.TrimSpace(d); d != "" {
			allowed[d] = true
		}
	}

	for _, domain := range extractDomains(text) {
		if !allowed[domain] {
			if logger != nil {
				logger.Debug("Unfurling not allowed for domain", zap.String("domain", domain))
			}
			return false
		}
	}
	return true
}

// extractDomains returns unique domains mentioned in text, either inside URLs
// or as bare hostnames. Candidates without a real ICANN suffix are ignored so
// that things like file names do not count as domains.
func extractDomains(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, cand := range domainRe.FindAllString(text, -1) {
		d := strings.ToLower(cand)
		suffix, icann := publicsuffix.PublicSuffix(d)
		if !icann || suffix == d {
			continue
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

func filterSpecialChars(text string) string {
	text = replaceLinks(text, slackLinkRe, 1, 2)
	text = replaceLinks(text, mdLinkRe, 2, 1)
	text = replaceLinks(text, htmlLinkRe, 1, 2)

	// Protect bare URLs before stripping special characters.
	urls := urlRe.FindAllString(text, -1)
	for i, u := range urls {
		text = strings.Replace(text, u, urlPlaceholder(i), 1)
	}

	text = cleanRe.ReplaceAllString(text, "")

	for i, u := range urls {
		text = strings.Replace(text, urlPlaceholder(i), u, 1)
	}

	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// replaceLinks rewrites every match of re as "url - label". A trailing comma
// is added unless the match is the last non-whitespace content, so sentences
// keep their rhythm after the markup is gone. Matches are processed from the
// end to keep indices valid.
func replaceLinks(text string, re *regexp.Regexp, urlIdx, labelIdx int) string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		linkURL := text[m[2*urlIdx]:m[2*urlIdx+1]]
		label := text[m[2*labelIdx]:m[2*labelIdx+1]]

		replacement := linkURL + " - " + label
		if strings.TrimSpace(text[m[1]:]) != "" {
			replacement += ","
		}
		text = text[:m[0]] + replacement + text[m[1]:]
	}
	return text
}

func urlPlaceholder(i int) string {
	return fmt.Sprintf("___URL_PLACEHOLDER_%d___", i)
}
