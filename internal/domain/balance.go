package domain

// NativeBalance is the balance of a chain's native unit.
type NativeBalance struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"` // decimal string, base units
}

// DelegationBalance is one staking delegation to a validator.
type DelegationBalance struct {
	ValidatorAddress string `json:"validator_address"`
	Amount           string `json:"amount"` // decimal string, base units
	Denom            string `json:"denom,omitempty"`
}

// TokenBalance is the balance of one ERC20 contract.
// Keyed by ContractAddress (normalized, see NormalizeContract).
type TokenBalance struct {
	ContractAddress string `json:"contract_address"`
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`
	Amount          string `json:"amount"` // decimal string, base units
	Decimals        int    `json:"decimals"`
}

// TokenInfo is a registry entry for a known token contract.
// Metadata is empty until the first successful fetch.
type TokenInfo struct {
	ContractAddress string
	Symbol          string
	Name            string
	Decimals        int
	RegisteredAt    int64 // Unix timestamp in milliseconds
}

// BalanceRecord is one observed balance value, used for balance history.
type BalanceRecord struct {
	Address    string   // owner address the balance belongs to
	Source     SourceID // native | delegations | token:<contract>
	Denom      string   // denom, validator address or token symbol
	Amount     string   // decimal string, base units
	Generation uint64
	ObservedAt int64 // Unix timestamp in milliseconds
}
