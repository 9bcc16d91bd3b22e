// Package oracle reads prices from an on-chain oracle contract through the
// EVM chain adapter's own RPC client, rather than opening a second
// connection to the chain.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/arcbridge/bridge-core/internal/price/provider"
	"github.com/arcbridge/chainadapter/rpc"
)

// feedConfig is one trading pair's oracle feed: the contract address that
// feeds its price and the pair's static confidence. Populated from Config at
// construction; an unmapped pair is simply unsupported.
type feedConfig struct {
	contractAddress string
	staticConfidence float64
}

// Provider reads a price feed contract's latest answer via eth_call,
// decoding it the way a Chainlink-style `latestAnswer() returns (int256)`
// feed would respond.
type Provider struct {
	id         string
	rpcClient  rpc.RPCClient
	feeds      map[string]feedConfig
}

// latestAnswerSelector is the 4-byte function selector for
// `latestAnswer()`, keccak256("latestAnswer()")[:4].
const latestAnswerSelector = "0x50d25bcd"

// New constructs an oracle Provider. feeds maps pair -> (contract address,
// static confidence) since a read-only price feed contract has no natural
// dynamic confidence signal of its own.
func New(id string, rpcClient rpc.RPCClient, feeds map[string]struct {
	ContractAddress  string
	StaticConfidence float64
}) *Provider {
	m := make(map[string]feedConfig, len(feeds))
	for pair, f := range feeds {
		m[pair] = feedConfig{contractAddress: f.ContractAddress, staticConfidence: f.StaticConfidence}
	}
	return &Provider{id: id, rpcClient: rpcClient, feeds: m}
}

func (p *Provider) ID() string { return p.id }

func (p *Provider) SupportedPairs() []string {
	pairs := make([]string, 0, len(p.feeds))
	for pair := range p.feeds {
		pairs = append(pairs, pair)
	}
	return pairs
}

type ethCallParams struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

func (p *Provider) GetPrice(ctx context.Context, pair string) (provider.PricePoint, error) {
	feed, ok := p.feeds[pair]
	if !ok {
		return provider.PricePoint{}, fmt.Errorf("oracle: pair %q not supported by provider %q", pair, p.id)
	}

	raw, err := p.rpcClient.Call(ctx, "eth_call", []interface{}{
		ethCallParams{To: feed.contractAddress, Data: latestAnswerSelector},
		"latest",
	})
	if err != nil {
		return provider.PricePoint{}, fmt.Errorf("oracle: eth_call to %s: %w", feed.contractAddress, err)
	}

	price, err := decodeHexInt(raw)
	if err != nil {
		return provider.PricePoint{}, fmt.Errorf("oracle: decoding %s response: %w", pair, err)
	}

	return provider.PricePoint{
		Pair:       pair,
		Price:      price,
		ProviderID: p.id,
		Confidence: feed.staticConfidence,
		ObservedAt: time.Now(),
	}, nil
}

// decodeHexInt parses a JSON string containing a 0x-prefixed hex-encoded
// 256-bit integer, the shape every eth_call result takes.
func decodeHexInt(raw json.RawMessage) (*big.Int, error) {
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, err
	}
	hexStr = strings.TrimPrefix(hexStr, "0x")
	if hexStr == "" {
		return nil, fmt.Errorf("empty eth_call result")
	}
	v, ok := new(big.Int).SetString(hexStr, 16)
	if !ok {
		return nil, fmt.Errorf("malformed hex integer %q", hexStr)
	}
	return v, nil
}
