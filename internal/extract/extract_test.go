package extract

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ethA       = "0x" + strings.Repeat("a1", 20)
	ethB       = "0x" + strings.Repeat("b2", 20)
	suiType    = "0x" + strings.Repeat("c3", 32) + "::"
	hyperToken = "0x" + strings.Repeat("d4", 16)
	pumpMint   = strings.Repeat("7", 40) + "pump"
	solMint44  = strings.Repeat("B", 44)
	tonAddr    = "EQ" + strings.Repeat("x", 46)
	tronAddr   = "T" + strings.Repeat("y", 33)
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  Candidate
		found bool
	}{
		{"ethereum", "ape " + ethA + " now", Candidate{ethA, ChainEthereum}, true},
		{"sui keeps separator", suiType + "coin::COIN", Candidate{suiType, ChainSui}, true},
		{"hyperliquid", "perp " + hyperToken, Candidate{hyperToken, ChainHyperliquid}, true},
		{"solana pump suffix", "https://pump.fun/" + pumpMint, Candidate{pumpMint, ChainSolana}, true},
		{"solana 44", "mint " + solMint44 + " lfg", Candidate{solMint44, ChainSolana}, true},
		{"ton", "jetton " + tonAddr, Candidate{tonAddr, ChainTon}, true},
		{"tron", "trc20 " + tronAddr, Candidate{tronAddr, ChainTron}, true},
		{"cashtag fallback", "$FOO bought", Candidate{"FOO", ChainCashtag}, true},
		{"first cashtag", "rotating $BAR into $BAZ", Candidate{"BAR", ChainCashtag}, true},
		{"nothing", "gm frens", Candidate{}, false},
		{"empty", "", Candidate{}, false},
	}

	e := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := e.Extract(tt.text)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractFrequencyWithinFamily(t *testing.T) {
	text := strings.Join([]string{ethB, ethA, ethA, ethA}, " ")

	got, ok := New().Extract(text)
	require.True(t, ok)
	assert.Equal(t, ethA, got.Address)
}

func TestExtractPriorityBeatsFrequency(t *testing.T) {
	text := strings.Join([]string{solMint44, solMint44, solMint44, ethA, "$PEPE"}, " ")

	got, ok := New().Extract(text)
	require.True(t, ok)
	assert.Equal(t, Candidate{ethA, ChainEthereum}, got)
}

func TestExtractAddressBeatsCashtag(t *testing.T) {
	got, ok := New().Extract("$WIF " + tronAddr)
	require.True(t, ok)
	assert.Equal(t, ChainTron, got.Chain)
}

func TestChainsOrder(t *testing.T) {
	assert.Equal(t, []Chain{
		ChainSui, ChainEthereum, ChainHyperliquid, ChainSolana,
		ChainTon, ChainTron, ChainCardano, ChainXRPL,
	}, New().Chains())
}

func TestMatcherSubPatternOrder(t *testing.T) {
	m := Matcher{Chain: "test", Patterns: []*regexp.Regexp{
		regexp.MustCompile(`second`),
		regexp.MustCompile(`first`),
	}}

	got, ok := m.Match("first second second")
	require.True(t, ok)
	assert.Equal(t, "second", got)
}

func TestNewWithMatchers(t *testing.T) {
	e := NewWithMatchers([]Matcher{{Chain: "custom", Patterns: []*regexp.Regexp{regexp.MustCompile(`X\d+`)}}})

	got, ok := e.Extract("ids X1 X2 X2")
	require.True(t, ok)
	assert.Equal(t, Candidate{"X2", "custom"}, got)
}

func TestMostFrequent(t *testing.T) {
	tests := []struct {
		values []string
		want   string
	}{
		{nil, ""},
		{[]string{"a"}, "a"},
		{[]string{"a", "b", "b"}, "b"},
		{[]string{"a", "b", "b", "a"}, "a"},
		{[]string{"c", "a", "b", "a", "b"}, "a"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.values, ","), func(t *testing.T) {
			assert.Equal(t, tt.want, MostFrequent(tt.values))
		})
	}
}
