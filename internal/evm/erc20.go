package evm

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"

	"wallet-sync/internal/domain"
	"wallet-sync/internal/sources"
)

// DefaultMetadataCacheSize is the number of token contracts whose metadata is cached.
const DefaultMetadataCacheSize = 256

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// tokenMetadata is immutable per contract, so it is cached after the first read.
type tokenMetadata struct {
	Symbol   string
	Name     string
	Decimals int
}

// ERC20Source implements sources.TokenSource with eth_call.
type ERC20Source struct {
	client *Client
	abi    abi.ABI
	cache  *lru.Cache // normalized contract -> tokenMetadata
}

// Compile-time interface check.
var _ sources.TokenSource = (*ERC20Source)(nil)

// NewERC20Source creates a token source caching metadata of up to cacheSize contracts.
func NewERC20Source(client *Client, cacheSize int) (*ERC20Source, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultMetadataCacheSize
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create metadata cache: %w", err)
	}
	return &ERC20Source{client: client, abi: parsed, cache: cache}, nil
}

// FetchTokenBalance returns owner's balance of contract with the token's metadata.
func (s *ERC20Source) FetchTokenBalance(ctx context.Context, owner, contract string) (*domain.TokenBalance, error) {
	ownerAddr, err := parseAddress(owner)
	if err != nil {
		return nil, err
	}
	contractAddr, err := parseAddress(contract)
	if err != nil {
		return nil, err
	}

	meta, err := s.metadata(ctx, contractAddr)
	if err != nil {
		return nil, err
	}

	out, err := s.callMethod(ctx, contractAddr, "balanceOf", ownerAddr)
	if err != nil {
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: balanceOf returned %T", domain.ErrChain, out[0])
	}

	return &domain.TokenBalance{
		ContractAddress: domain.NormalizeContract(contract),
		Symbol:          meta.Symbol,
		Name:            meta.Name,
		Amount:          balance.String(),
		Decimals:        meta.Decimals,
	}, nil
}

// metadata returns symbol, name and decimals of contract, reading them once.
func (s *ERC20Source) metadata(ctx context.Context, contract common.Address) (tokenMetadata, error) {
	key := domain.NormalizeContract(contract.Hex())
	if cached, ok := s.cache.Get(key); ok {
		return cached.(tokenMetadata), nil
	}

	symbol, err := s.callString(ctx, contract, "symbol")
	if err != nil {
		return tokenMetadata{}, err
	}
	name, err := s.callString(ctx, contract, "name")
	if err != nil {
		return tokenMetadata{}, err
	}
	out, err := s.callMethod(ctx, contract, "decimals")
	if err != nil {
		return tokenMetadata{}, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return tokenMetadata{}, fmt.Errorf("%w: decimals returned %T", domain.ErrChain, out[0])
	}

	meta := tokenMetadata{Symbol: symbol, Name: name, Decimals: int(decimals)}
	s.cache.Add(key, meta)
	return meta, nil
}

// callString reads a string getter. Some older tokens return bytes32
// instead of string; those are decoded as zero-padded ASCII.
func (s *ERC20Source) callString(ctx context.Context, contract common.Address, method string) (string, error) {
	data, err := s.abi.Pack(method)
	if err != nil {
		return "", fmt.Errorf("%w: pack %s: %v", domain.ErrChain, method, err)
	}
	raw, err := s.client.Call(ctx, contract, data)
	if err != nil {
		return "", fmt.Errorf("%s(): %w", method, err)
	}

	if out, err := s.abi.Unpack(method, raw); err == nil {
		if str, ok := out[0].(string); ok {
			return str, nil
		}
	}
	if len(raw) == 32 {
		return string(bytes.TrimRight(raw, "\x00")), nil
	}
	return "", fmt.Errorf("%w: %s(): undecodable result 0x%x", domain.ErrChain, method, raw)
}

// callMethod packs, calls and unpacks one ABI method.
func (s *ERC20Source) callMethod(ctx context.Context, contract common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := s.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", domain.ErrChain, method, err)
	}
	raw, err := s.client.Call(ctx, contract, data)
	if err != nil {
		return nil, fmt.Errorf("%s(): %w", method, err)
	}
	out, err := s.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s(): unpack: %v", domain.ErrChain, method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s(): empty result", domain.ErrChain, method)
	}
	return out, nil
}
