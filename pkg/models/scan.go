package models

// Scan event types
const (
	ScanTypeScan   = "scan"
	ScanTypeCaller = "caller"
	ScanTypeBot    = "bot"
	ScanTypeBuy    = "buy"
	ScanTypeSell   = "sell"
)

// ScanEvent is the record published to the history sink
type ScanEvent struct {
	Type         string      `json:"type"`
	Chain        string      `json:"chain"`
	TokenAddress string      `json:"token_address"`
	Context      interface{} `json:"context"`
	Timestamp    int64       `json:"timestamp"`
}

// ScanContext describes where a plain address mention was seen
type ScanContext struct {
	Username  string `json:"username"`
	Guildname string `json:"guildname"`
	URL       string `json:"url"`
	Args      string `json:"args"`
}

// TradeContext describes a parsed wallet trade notification
type TradeContext struct {
	WalletAddress *string `json:"wallet_address"`
	Username      string  `json:"username"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	PricePerToken float64 `json:"price_per_token"`
	URL           string  `json:"url"`
	Args          string  `json:"args"`
}
