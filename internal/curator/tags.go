package curator

import (
	"regexp"
	"strings"
)

var inlineTagRe = regexp.MustCompile(`(?i)<(/?)(b|i|u|s)\b[^>]*?>`)

// RepairTags closes any bold, italic, underline or strike tags left open.
// A closing tag cancels the nearest open tag of the same name wherever it sits
// in the stack; leftovers are closed in reverse order of opening.
func RepairTags(text string) string {
	var open []string
	for _, m := range inlineTagRe.FindAllStringSubmatch(text, -1) {
		tag := strings.ToLower(m[2])
		if m[1] == "" {
			open = append(open, tag)
			continue
		}
		for i := len(open) - 1; i >= 0; i-- {
			if open[i] == tag {
				open = append(open[:i], open[i+1:]...)
				break
			}
		}
	}
	if len(open) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</")
		b.WriteString(open[i])
		b.WriteString(">")
	}
	return b.String()
}
