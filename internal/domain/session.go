package domain

import "strings"

// WalletAddresses holds the addresses of one wallet on both ledgers.
// Either may be empty, but not both.
type WalletAddresses struct {
	EthAddress    string `json:"eth_address,omitempty"`
	CosmosAddress string `json:"cosmos_address,omitempty"`
}

// Normalize trims whitespace from both addresses.
func (a WalletAddresses) Normalize() WalletAddresses {
	return WalletAddresses{
		EthAddress:    strings.TrimSpace(a.EthAddress),
		CosmosAddress: strings.TrimSpace(a.CosmosAddress),
	}
}

// IsEmpty reports whether no address is set.
func (a WalletAddresses) IsEmpty() bool {
	return a.EthAddress == "" && a.CosmosAddress == ""
}

// WalletSession is the currently connected wallet.
// Generation increments on every connect and disconnect and is the only
// authority used to discard results of superseded fetches.
type WalletSession struct {
	EthAddress    string `json:"eth_address,omitempty"`
	CosmosAddress string `json:"cosmos_address,omitempty"`
	Connected     bool   `json:"connected"`
	Generation    uint64 `json:"generation"`
}

// Addresses returns the session's addresses.
func (s WalletSession) Addresses() WalletAddresses {
	return WalletAddresses{EthAddress: s.EthAddress, CosmosAddress: s.CosmosAddress}
}
