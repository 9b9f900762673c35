package valuation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
)

// Default spam patterns. Airdropped scam tokens advertise a site in their
// name or symbol.
const (
	DefaultSpamTickerPattern = `N/A|Visit|\.com|\.fi|\.io|\.xyz|\.site|\.exchange|\.pro|\.net`
	DefaultSpamTokenPattern  = `\.org|\.com|\.fi|\.io|\.xyz|\.site|\.exchange|\.pro|\.net`
)

// SpamFilter flags tokens whose labels match spam patterns.
type SpamFilter struct {
	ticker *regexp.Regexp
	token  *regexp.Regexp
}

// NewSpamFilter compiles the patterns. An empty pattern never matches.
func NewSpamFilter(tickerPattern, tokenPattern string) (*SpamFilter, error) {
	f := &SpamFilter{}
	var err error
	if tickerPattern != "" {
		if f.ticker, err = regexp.Compile(tickerPattern); err != nil {
			return nil, fmt.Errorf("ticker pattern: %w", err)
		}
	}
	if tokenPattern != "" {
		if f.token, err = regexp.Compile(tokenPattern); err != nil {
			return nil, fmt.Errorf("token pattern: %w", err)
		}
	}
	return f, nil
}

// IsSpam reports whether label matches either pattern.
func (f *SpamFilter) IsSpam(label Label) bool {
	if f == nil {
		return false
	}
	return (f.ticker != nil && f.ticker.MatchString(label.Ticker)) ||
		(f.token != nil && f.token.MatchString(label.TokenName))
}

// FilterEvents drops events of spam tokens, deciding row by row. The
// event's own labels are used when present, otherwise the index's. It
// returns the kept events and the sorted list of contracts that had at least
// one row dropped.
func FilterEvents(events []models.TransferEvent, ix *MetadataIndex, f *SpamFilter) ([]models.TransferEvent, []string) {
	if f == nil {
		return events, nil
	}

	droppedSet := make(map[string]struct{})
	kept := make([]models.TransferEvent, 0, len(events))
	for _, ev := range events {
		addr := types.NormalizeAddress(ev.ContractAddress)
		label := Label{TokenName: strings.TrimSpace(ev.Token), Ticker: strings.TrimSpace(ev.Ticker)}
		if label == (Label{}) && ix != nil {
			label = ix.Label(addr)
		}
		if f.IsSpam(label) {
			droppedSet[addr] = struct{}{}
			continue
		}
		kept = append(kept, ev)
	}

	var dropped []string
	for addr := range droppedSet {
		dropped = append(dropped, addr)
	}
	sort.Strings(dropped)
	return kept, dropped
}
