package common

import (
	"fmt"
	"sync"
)

// Well-known mainnet mints.
const (
	MintSOL  = "So11111111111111111111111111111111111111112"
	MintUSDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	MintUSDT = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	MintRAY  = "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"
	MintORCA = "orcaEKTdK7LKz57vaAYr9QeNsVEPfiu6QeMU1kektZE"
)

// MintMetadata represents metadata for a Solana token mint
type MintMetadata struct {
	Address  string `json:"address" yaml:"address"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals uint8  `json:"decimals" yaml:"decimals"`
	Name     string `json:"name" yaml:"name"`
}

// MintMetadataProvider resolves symbols and decimals for mints. Pool decoding
// uses it to fill decimals for venues whose accounts do not carry them.
type MintMetadataProvider interface {
	// GetMintMetadata retrieves metadata for a given mint address
	GetMintMetadata(mintAddress string) (*MintMetadata, error)

	// GetDecimals returns just the decimal places for a mint
	GetDecimals(mintAddress string) (uint8, error)
}

// InMemoryMintMetadataProvider is a map-backed provider seeded with common mints.
type InMemoryMintMetadataProvider struct {
	mu       sync.RWMutex
	metadata map[string]*MintMetadata
}

// NewInMemoryMintMetadataProvider creates a new in-memory provider with common Solana mints
func NewInMemoryMintMetadataProvider() *InMemoryMintMetadataProvider {
	provider := &InMemoryMintMetadataProvider{
		metadata: make(map[string]*MintMetadata),
	}

	commonMints := []*MintMetadata{
		{Address: MintSOL, Symbol: "SOL", Decimals: 9, Name: "Wrapped SOL"},
		{Address: MintUSDC, Symbol: "USDC", Decimals: 6, Name: "USD Coin"},
		{Address: MintUSDT, Symbol: "USDT", Decimals: 6, Name: "USDT"},
		{Address: MintRAY, Symbol: "RAY", Decimals: 6, Name: "Raydium"},
		{Address: MintORCA, Symbol: "ORCA", Decimals: 6, Name: "Orca"},
	}

	for _, mint := range commonMints {
		provider.metadata[mint.Address] = mint
	}

	return provider
}

// GetMintMetadata retrieves metadata for a given mint address
func (p *InMemoryMintMetadataProvider) GetMintMetadata(mintAddress string) (*MintMetadata, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	metadata, ok := p.metadata[mintAddress]
	if !ok {
		return nil, fmt.Errorf("mint metadata not found for address: %s", mintAddress)
	}

	return metadata, nil
}

// GetDecimals returns just the decimal places for a mint
func (p *InMemoryMintMetadataProvider) GetDecimals(mintAddress string) (uint8, error) {
	metadata, err := p.GetMintMetadata(mintAddress)
	if err != nil {
		return 0, err
	}

	return metadata.Decimals, nil
}

// AddMintMetadata adds or updates metadata for a mint.
func (p *InMemoryMintMetadataProvider) AddMintMetadata(metadata *MintMetadata) {
	if metadata == nil || metadata.Address == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metadata[metadata.Address] = metadata
}

// Symbol returns the registered symbol for a mint, or a short prefix of the
// address when the mint is unknown.
func Symbol(provider MintMetadataProvider, mint string) string {
	if provider != nil {
		if md, err := provider.GetMintMetadata(mint); err == nil && md.Symbol != "" {
			return md.Symbol
		}
	}
	if len(mint) > 8 {
		return mint[:8]
	}
	return mint
}
