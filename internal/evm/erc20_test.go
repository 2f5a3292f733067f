package evm

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-sync/internal/domain"
)

func newTestERC20Source(t *testing.T, node *fakeNode) *ERC20Source {
	t.Helper()
	source, err := NewERC20Source(NewClient(node.URL()), 0)
	require.NoError(t, err)
	return source
}

func addToken(node *fakeNode, contract string, token *fakeToken) {
	if token.holders == nil {
		token.holders = make(map[common.Address]*big.Int)
	}
	node.tokens[common.HexToAddress(contract)] = token
}

func TestERC20Source_FetchTokenBalance(t *testing.T) {
	node := newFakeNode(t)
	amount, _ := new(big.Int).SetString("123450000000000000000", 10)
	addToken(node, contractHex, &fakeToken{
		symbol:   "USDC",
		name:     "USD Coin",
		decimals: 6,
		holders:  map[common.Address]*big.Int{common.HexToAddress(ownerHex): amount},
	})

	source := newTestERC20Source(t, node)
	got, err := source.FetchTokenBalance(context.Background(), ownerHex, strings.ToUpper(contractHex[2:]))
	require.NoError(t, err)

	assert.Equal(t, domain.TokenBalance{
		ContractAddress: contractHex,
		Symbol:          "USDC",
		Name:            "USD Coin",
		Amount:          "123450000000000000000",
		Decimals:        6,
	}, *got)
}

func TestERC20Source_MetadataIsCached(t *testing.T) {
	node := newFakeNode(t)
	addToken(node, contractHex, &fakeToken{symbol: "TKN", name: "Token", decimals: 18})

	source := newTestERC20Source(t, node)
	for i := 0; i < 3; i++ {
		got, err := source.FetchTokenBalance(context.Background(), ownerHex, contractHex)
		require.NoError(t, err)
		assert.Equal(t, "0", got.Amount)
		assert.Equal(t, "TKN", got.Symbol)
	}

	assert.Equal(t, 3, node.callCount("balanceOf"))
	assert.Equal(t, 1, node.callCount("symbol"))
	assert.Equal(t, 1, node.callCount("name"))
	assert.Equal(t, 1, node.callCount("decimals"))
}

func TestERC20Source_Bytes32Metadata(t *testing.T) {
	node := newFakeNode(t)
	addToken(node, contractHex, &fakeToken{symbol: "MKR", name: "Maker", decimals: 18, bytes32Meta: true})

	got, err := newTestERC20Source(t, node).FetchTokenBalance(context.Background(), ownerHex, contractHex)
	require.NoError(t, err)
	assert.Equal(t, "MKR", got.Symbol)
	assert.Equal(t, "Maker", got.Name)
	assert.Equal(t, 18, got.Decimals)
}

func TestERC20Source_RevertedCallIsChainError(t *testing.T) {
	node := newFakeNode(t)

	_, err := newTestERC20Source(t, node).FetchTokenBalance(context.Background(), ownerHex, contractHex)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindChain, domain.KindOf(err))
}

func TestERC20Source_InvalidAddresses(t *testing.T) {
	node := newFakeNode(t)
	addToken(node, contractHex, &fakeToken{symbol: "TKN", decimals: 18})
	source := newTestERC20Source(t, node)

	tests := []struct {
		name     string
		owner    string
		contract string
	}{
		{"invalid owner", "cosmos1abc", contractHex},
		{"invalid contract", ownerHex, "0xCC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := source.FetchTokenBalance(context.Background(), tt.owner, tt.contract)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrChain)
		})
	}
	assert.Equal(t, 0, node.callCount("balanceOf"))
}
