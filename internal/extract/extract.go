package extract

import (
	"regexp"
)

// Chain labels a pattern family
type Chain string

const (
	ChainSui         Chain = "sui"
	ChainEthereum    Chain = "ethereum"
	ChainHyperliquid Chain = "hyperliquid"
	ChainSolana      Chain = "solana"
	ChainTon         Chain = "ton"
	ChainTron        Chain = "tron"
	ChainCardano     Chain = "cardano"
	ChainXRPL        Chain = "xrpl"
	ChainCashtag     Chain = "cashtag"
)

// Candidate is the best asset reference found in a text
type Candidate struct {
	Address string `json:"address"`
	Chain   Chain  `json:"chain"`
}

// Matcher is one pattern family. Patterns are tried in order and the first
// one with any hit decides the family's answer.
type Matcher struct {
	Chain    Chain
	Patterns []*regexp.Regexp
}

// Match returns the most frequent hit of the first pattern that matches
func (m Matcher) Match(text string) (string, bool) {
	for _, p := range m.Patterns {
		if hits := p.FindAllString(text, -1); len(hits) > 0 {
			return MostFrequent(hits), true
		}
	}
	return "", false
}

// DefaultMatchers returns the chain families in priority order
func DefaultMatchers() []Matcher {
	return []Matcher{
		{ChainSui, compile(`\b0x[A-Za-z0-9]{64}::`)},
		{ChainEthereum, compile(`\b0x[a-fA-F0-9]{40}\b`)},
		{ChainHyperliquid, compile(`\b0x[a-fA-F0-9]{32}\b`)},
		{ChainSolana, compile(`[A-Za-z0-9]{39,40}pump`, `\b[A-Za-z0-9]{44}\b`, `\b[A-Za-z0-9]{43}\b`)},
		{ChainTon, compile(`\bE[A-Za-z0-9_-]{47}\b`)},
		{ChainTron, compile(`\bT[A-Za-z0-9_-]{33}\b`)},
		{ChainCardano, compile(`\b[A-Za-z0-9]{56}\b`)},
		{ChainXRPL, compile(`\b\w+\.[A-Za-z0-9]{34}\b`)},
	}
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

var cashtagPattern = regexp.MustCompile(`\$\w+`)

// Extractor finds chain addresses and cashtags in free text
type Extractor struct {
	matchers []Matcher
}

// New creates an Extractor over the default chain families
func New() *Extractor {
	return &Extractor{matchers: DefaultMatchers()}
}

// NewWithMatchers creates an Extractor over a custom ordered family list
func NewWithMatchers(matchers []Matcher) *Extractor {
	return &Extractor{matchers: matchers}
}

// Chains returns the family labels in the order they are evaluated
func (e *Extractor) Chains() []Chain {
	chains := make([]Chain, len(e.matchers))
	for i, m := range e.matchers {
		chains[i] = m.Chain
	}
	return chains
}

// Extract returns the candidate of the first family with a hit. Without any
// address it falls back to the first cashtag, dollar sign removed.
func (e *Extractor) Extract(text string) (Candidate, bool) {
	for _, m := range e.matchers {
		if addr, ok := m.Match(text); ok {
			return Candidate{Address: addr, Chain: m.Chain}, true
		}
	}

	if tag := cashtagPattern.FindString(text); tag != "" {
		return Candidate{Address: tag[1:], Chain: ChainCashtag}, true
	}

	return Candidate{}, false
}

// MostFrequent returns the value with the highest count. Among equally
// frequent values the one seen first wins.
func MostFrequent(values []string) string {
	if len(values) == 0 {
		return ""
	}

	counts := make(map[string]int, len(values))
	for _, v := range values {
		counts[v]++
	}

	best := values[0]
	for _, v := range values[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best
}
