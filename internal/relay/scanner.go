package relay

import "strings"

var imageExtensions = []string{".jpeg", ".png", ".bmp", ".gif", ".jpg"}

// ScanImageLinks returns the space-separated tokens of text that look like
// image links. It returns nil when text mentions no image extension at all.
//
// Extensions are tried in a fixed order and each hit replaces the previous
// result, so when several extensions occur only the tokens for the last one
// are returned.
func ScanImageLinks(text string) []string {
	lower := strings.ToLower(text)

	var links []string
	for _, ext := range imageExtensions {
		if !strings.Contains(lower, ext) {
			continue
		}
		links = make([]string, 0)
		for _, token := range strings.Split(text, " ") {
			if strings.Contains(strings.ToLower(token), ext) {
				links = append(links, token)
			}
		}
	}
	return links
}
