package models

// TransferEvent is one row of a chain's transactions feed, kept as the raw
// text the feed supplied. Numeric and time fields are converted during
// balance reconstruction so a malformed row can be dropped on its own.
type TransferEvent struct {
	Line            int    `json:"line,omitempty"`
	Time            string `json:"time" db:"time"`
	ContractAddress string `json:"contractAddress" db:"contract_address"`
	Category        string `json:"category" db:"category"` // from, to
	Value           string `json:"value" db:"value"`       // raw integer-like amount
	Decimal         string `json:"decimal" db:"decimal"`   // token precision, may be blank
	Ticker          string `json:"ticker,omitempty" db:"ticker"`
	Token           string `json:"token,omitempty" db:"token"`
}
