package invites

import (
	"regexp"
	"sort"
	"strings"
)

var inviteRegex = regexp.MustCompile(`(?i)(?:https?://)?(?:\w+\.)?discord(?:(?:app)?\.com/invite|\.gg)/([a-z0-9-]+)`)

// ExtractSet returns the distinct invite codes found in a message body and its
// embed descriptions.
func ExtractSet(content string, embedDescriptions []string) map[string]struct{} {
	parts := make([]string, 0, len(embedDescriptions)+1)
	parts = append(parts, embedDescriptions...)
	parts = append(parts, content)
	text := strings.Join(parts, " ")

	codes := make(map[string]struct{})
	for _, match := range inviteRegex.FindAllStringSubmatch(text, -1) {
		if len(match) < 2 || match[1] == "" {
			continue
		}
		codes[match[1]] = struct{}{}
	}
	return codes
}

// Extract is ExtractSet as a sorted slice.
func Extract(content string, embedDescriptions []string) []string {
	set := ExtractSet(content, embedDescriptions)
	codes := make([]string, 0, len(set))
	for code := range set {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
