package listener

import (
	"regexp"
	"strings"
)

// LinkDetector recognizes messages that are nothing but one embeddable link
type LinkDetector struct {
	pattern *regexp.Regexp
}

// NewLinkDetector builds the detector for the allowed embed domains
func NewLinkDetector(domains []string) *LinkDetector {
	quoted := make([]string, len(domains))
	for i, d := range domains {
		quoted[i] = regexp.QuoteMeta(d)
	}
	pattern := `(?i)https?://(www\.)?(` + strings.Join(quoted, "|") + `)[-a-zA-Z0-9()@:%_+.~#?&/=]*`
	return &LinkDetector{pattern: regexp.MustCompile(pattern)}
}

// IsSingularLink reports whether the first embeddable link spans the whole text
func (d *LinkDetector) IsSingularLink(text string) bool {
	if d == nil || text == "" {
		return false
	}
	loc := d.pattern.FindStringIndex(text)
	return loc != nil && loc[1]-loc[0] == len(text)
}
