package domain

import "strings"

// SourceID identifies one independent balance-data origin.
// Native coin and delegations have fixed IDs; every registered token contract
// is its own source ("token:<contract>").
type SourceID string

const (
	SourceNative      SourceID = "native"
	SourceDelegations SourceID = "delegations"

	tokenSourcePrefix = "token:"
)

// TokenSource returns the source ID for a token contract.
// The contract address is normalized so that two spellings of the same
// address map to the same source.
func TokenSource(contract string) SourceID {
	return SourceID(tokenSourcePrefix + NormalizeContract(contract))
}

// String returns the string representation of SourceID.
func (s SourceID) String() string {
	return string(s)
}

// TokenContract returns the contract address of a token source.
// ok is false for non-token sources.
func (s SourceID) TokenContract() (contract string, ok bool) {
	if !strings.HasPrefix(string(s), tokenSourcePrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(s), tokenSourcePrefix), true
}

// IsValid checks if the source is a known kind.
func (s SourceID) IsValid() bool {
	if s == SourceNative || s == SourceDelegations {
		return true
	}
	c, ok := s.TokenContract()
	return ok && c != ""
}

// NormalizeContract returns the canonical key for a token contract address:
// trimmed, lowercase, 0x-prefixed.
func NormalizeContract(addr string) string {
	a := strings.ToLower(strings.TrimSpace(addr))
	if a == "" {
		return ""
	}
	if !strings.HasPrefix(a, "0x") {
		a = "0x" + a
	}
	return a
}
