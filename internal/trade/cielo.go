package trade

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

// Direction of a wallet trade
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// UnknownCurrency is reported when the quote symbol is not a primary token
const UnknownCurrency = "UNKNOWN"

// primarySymbols maps quote-currency hashtags to their canonical symbol
var primarySymbols = map[string]string{
	"#WETH":   "ETH",
	"#ETH":    "ETH",
	"#SOL":    "SOL",
	"#USDC":   "USDC",
	"#USDT":   "USDT",
	"#WMATIC": "MATIC",
	"#FTM":    "FTM",
	"#BNB":    "BNB",
}

// Event is a parsed wallet trade notification
type Event struct {
	Direction     Direction `json:"direction"`
	WalletAddress *string   `json:"wallet_address"`
	Label         string    `json:"label"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	PricePerToken float64   `json:"price_per_token"`
	ProfileURL    string    `json:"profile_url"`
	RawText       string    `json:"raw_text"`
}

// Context converts the event to the payload context sent to the history sink
func (e *Event) Context() models.TradeContext {
	return models.TradeContext{
		WalletAddress: e.WalletAddress,
		Username:      e.Label,
		Amount:        e.Amount,
		Currency:      e.Currency,
		PricePerToken: e.PricePerToken,
		URL:           e.ProfileURL,
		Args:          e.RawText,
	}
}

// Parser recognizes Cielo wallet tracker notifications
type Parser struct {
	// "1,234.5 #WETH"
	amountPattern *regexp.Regexp
	// leading decimal of the price field
	numberPattern *regexp.Regexp
	labelReplacer *strings.Replacer
}

// NewParser creates a new Cielo parser
func NewParser() *Parser {
	return &Parser{
		amountPattern: regexp.MustCompile(`(\d+(?:,\d+)*(?:\.\d+)?) (#\w+)`),
		numberPattern: regexp.MustCompile(`^[-+]?(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][-+]?\d+)?`),
		labelReplacer: strings.NewReplacer("#", "", "=", "", "+", "_", " ", "_"),
	}
}

// IsTrade reports whether the text carries the Cielo marker
func IsTrade(text string) bool {
	return strings.Contains(strings.ToLower(text), "cielo")
}

// Parse extracts a trade from text. Without any "<amount> #TAG" pair there is
// no trade and ok is false.
func (p *Parser) Parse(text string, entities []models.Entity, tokenAddress string) (*Event, bool) {
	pairs := p.amountPattern.FindAllStringSubmatch(text, -1)
	if len(pairs) == 0 {
		return nil, false
	}

	event := &Event{
		Label:         p.label(text),
		PricePerToken: p.price(text),
		RawText:       text,
	}

	if targets := models.LinkTargets(entities); len(targets) > 0 {
		wallet := targets[0]
		event.WalletAddress = &wallet
	}

	first := pairs[0]
	if symbol, ok := primarySymbols[first[2]]; ok {
		event.Direction = Buy
		event.Amount = parseAmount(first[1])
		event.Currency = symbol
	} else {
		last := pairs[len(pairs)-1]
		event.Direction = Sell
		event.Amount = parseAmount(last[1])
		event.Currency = UnknownCurrency
		if symbol, ok := primarySymbols[last[2]]; ok {
			event.Currency = symbol
		}
	}

	switch {
	case strings.Contains(text, "🔴"):
		event.Direction = Sell
	case strings.Contains(text, "🟢"):
		event.Direction = Buy
	}

	wallet := ""
	if event.WalletAddress != nil {
		wallet = *event.WalletAddress
	}
	event.ProfileURL = ProfileURL(wallet, tokenAddress)

	return event, true
}

// ProfileURL builds the Cielo profile link for a wallet filtered by token
func ProfileURL(wallet, tokenAddress string) string {
	return "https://app.cielo.finance/profile/" + wallet + "?tokens=" + tokenAddress
}

func (p *Parser) label(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return p.labelReplacer.Replace(line)
}

// price reads the number after the last '@' of the first " | " field holding one
func (p *Parser) price(text string) float64 {
	for _, field := range strings.Split(text, " | ") {
		i := strings.LastIndexByte(field, '@')
		if i < 0 {
			continue
		}
		raw := strings.TrimSpace(field[i+1:])
		raw = strings.TrimPrefix(raw, "$")
		return p.leadingNumber(raw)
	}
	return 0
}

func (p *Parser) leadingNumber(s string) float64 {
	num := p.numberPattern.FindString(s)
	if num == "" {
		return 0
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseAmount(s string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}
