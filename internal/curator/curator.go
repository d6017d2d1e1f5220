// Package curator holds the pure text transformations applied to a post
// before it is redistributed: ad detection, trailing-link stripping, markup
// repair and footer injection.
package curator

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"
)

const (
	wordClass = `[\p{L}\p{N}_]`
	notWord   = `(?:[^\p{L}\p{N}_]|$)`
)

var (
	urlRe = regexp.MustCompile(`(?i)\b(?:https?://|www\.|[a-z0-9-]+\.)[a-z0-9.-]+` +
		"(?:/[^\\s<>\"{}|\\\\^`\\[\\]]*)?")
	handleRe  = regexp.MustCompile(`@` + wordClass + `{1,32}` + notWord)
	hashtagRe = regexp.MustCompile(`#` + wordClass + `{1,64}` + notWord)
	anchorRe  = regexp.MustCompile(`(?i)<a\s[^>]*href\s*=`)
)

// IsAdvertisement flags text containing a URL-like token, an @handle or a #hashtag.
func IsAdvertisement(text string) bool {
	if text == "" {
		return false
	}
	return urlRe.MatchString(text) || handleRe.MatchString(text) || hashtagRe.MatchString(text)
}

// isLinkLine extends the ad condition with raw anchor tags, which donors use for footers.
func isLinkLine(line string) bool {
	return IsAdvertisement(line) || anchorRe.MatchString(line)
}

// StripTrailingLinks drops blank and link-bearing lines from the bottom of the
// text up to the first line that is neither, then repairs unbalanced markup.
func StripTrailingLinks(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(lineBreaks.Replace(text), "\n")
	end := len(lines) - 1
	for end >= 0 {
		line := strings.TrimSpace(lines[end])
		if line != "" && !isLinkLine(line) {
			break
		}
		end--
	}
	kept := strings.TrimRightFunc(strings.Join(lines[:end+1], "\n"), unicode.IsSpace)
	return RepairTags(kept)
}

// lineBreaks folds every line boundary Telegram text may carry into "\n".
// "\r\n" must stay ahead of "\r".
var lineBreaks = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\v", "\n",
	"\f", "\n",
	"\x1c", "\n",
	"\x1d", "\n",
	"\x1e", "\n",
	"\u0085", "\n",
	"\u2028", "\n",
	"\u2029", "\n",
)

// Footer renders the signature appended to every delivered post.
func Footer(inviteLink, channelName string) string {
	return fmt.Sprintf("\n\n<a href=\"%s\"><b>%s — новости</b></a>",
		html.EscapeString(inviteLink), html.EscapeString(channelName))
}

// AddFooter appends the channel footer. Text that is empty after trimming stays empty.
func AddFooter(text, inviteLink, channelName string) string {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	if strings.TrimSpace(trimmed) == "" {
		return ""
	}
	return trimmed + Footer(inviteLink, channelName)
}

// Prepare strips trailing links and adds the footer.
func Prepare(text, inviteLink, channelName string) string {
	return AddFooter(StripTrailingLinks(text), inviteLink, channelName)
}
