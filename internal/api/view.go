package api

import (
	"wallet-sync/internal/domain"
	"wallet-sync/internal/snapshot"
)

// SnapshotView is the JSON form of a snapshot. Amounts are base-unit decimal
// strings; Formatted holds the human-readable value.
type SnapshotView struct {
	Session     domain.WalletSession `json:"session"`
	Native      *NativeView          `json:"native"`
	Delegations []DelegationView     `json:"delegations"`
	Tokens      []TokenView          `json:"tokens"`
	Loading     []string             `json:"loading"`
	Errors      map[string]string    `json:"errors"`
}

// NativeView is the native balance with its formatted amount.
type NativeView struct {
	Denom     string `json:"denom"`
	Amount    string `json:"amount"`
	Formatted string `json:"formatted"`
}

// DelegationView is one delegation with its formatted amount.
type DelegationView struct {
	ValidatorAddress string `json:"validator_address"`
	Denom            string `json:"denom,omitempty"`
	Amount           string `json:"amount"`
	Formatted        string `json:"formatted"`
}

// TokenView is one token balance with its formatted amount.
type TokenView struct {
	ContractAddress string `json:"contract_address"`
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`
	Decimals        int    `json:"decimals"`
	Amount          string `json:"amount"`
	Formatted       string `json:"formatted"`
}

// newSnapshotView converts snap. nativeDecimals applies to native and delegation amounts.
func newSnapshotView(snap snapshot.Snapshot, nativeDecimals int) SnapshotView {
	view := SnapshotView{
		Session:     snap.Session,
		Delegations: make([]DelegationView, 0, len(snap.Delegations)),
		Tokens:      make([]TokenView, 0, len(snap.Tokens)),
		Loading:     make([]string, 0, len(snap.Loading)),
		Errors:      make(map[string]string, len(snap.LastError)),
	}

	if snap.Native != nil {
		view.Native = &NativeView{
			Denom:     snap.Native.Denom,
			Amount:    snap.Native.Amount,
			Formatted: domain.FormatUnits(snap.Native.Amount, nativeDecimals),
		}
	}
	for _, d := range snap.Delegations {
		view.Delegations = append(view.Delegations, DelegationView{
			ValidatorAddress: d.ValidatorAddress,
			Denom:            d.Denom,
			Amount:           d.Amount,
			Formatted:        domain.FormatUnits(d.Amount, nativeDecimals),
		})
	}
	for _, t := range snap.TokenList() {
		view.Tokens = append(view.Tokens, TokenView{
			ContractAddress: t.ContractAddress,
			Symbol:          t.Symbol,
			Name:            t.Name,
			Decimals:        t.Decimals,
			Amount:          t.Amount,
			Formatted:       domain.FormatUnits(t.Amount, t.Decimals),
		})
	}
	for _, source := range snap.LoadingSources() {
		view.Loading = append(view.Loading, source.String())
	}
	for source, kind := range snap.LastError {
		view.Errors[source.String()] = kind.String()
	}
	return view
}
