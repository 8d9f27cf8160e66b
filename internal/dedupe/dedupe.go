package dedupe

import (
	"context"
	"strings"
)

// RecentSet remembers the most recently seen keys up to a fixed capacity.
// Seen inserts key and reports whether it was already present; when the set
// grows past capacity the oldest insertion is evicted.
type RecentSet interface {
	Seen(ctx context.Context, key string) (bool, error)
	Len(ctx context.Context) (int, error)
}

// Default capacities of the scan and trade sets
const (
	ScanHistoryLimit  = 10
	TradeHistoryLimit = 100
)

// ScanKey identifies a sender mentioning an address
func ScanKey(username, address string) string {
	return strings.ToLower(username + ":" + address)
}

// TradeKey identifies a wallet trading a token
func TradeKey(wallet, token string) string {
	return strings.ToLower(wallet + ":" + token)
}
