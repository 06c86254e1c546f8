// Package types contains shared type definitions used across multiple packages
package types

import (
	"fmt"
	"strings"
)

// Network identifies one blockchain (e.g. "BTC", "ETH", "ARB"). All adapters and registry
// entries for a chain are grouped under it.
type Network string

// ParseNetwork normalizes a user supplied network identifier.
func ParseNetwork(s string) Network {
	return Network(strings.ToUpper(strings.TrimSpace(s)))
}

func (n Network) String() string { return string(n) }

// Operation is one of the query kinds an adapter can serve
type Operation int

// Supported operations
const (
	OpBalance Operation = iota
	OpTxDetails
	OpAddressTxs
	OpBlockTxs
	OpBlockHead
	OpTokenBalance
	OpTokenTxs
)

var operationNames = map[Operation]string{
	OpBalance:      "balance",
	OpTxDetails:    "tx_details",
	OpAddressTxs:   "address_txs",
	OpBlockTxs:     "block_txs",
	OpBlockHead:    "block_head",
	OpTokenBalance: "token_balance",
	OpTokenTxs:     "token_txs",
}

// AllOperations returns every operation in declaration order.
func AllOperations() []Operation {
	return []Operation{OpBalance, OpTxDetails, OpAddressTxs, OpBlockTxs, OpBlockHead, OpTokenBalance, OpTokenTxs}
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// ParseOperation maps a configuration or storage name back to an Operation.
func ParseOperation(s string) (Operation, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for op, name := range operationNames {
		if name == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// MarshalText implements encoding.TextMarshaler so operations serialize by name.
func (o Operation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Operation) UnmarshalText(b []byte) error {
	op, err := ParseOperation(string(b))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// TokenInfo holds the static metadata of a token contract on a network
type TokenInfo struct {
	Contract string `yaml:"contract" json:"contract"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals int32  `yaml:"decimals" json:"decimals"`
}

// ChainInfo holds the per-network constants parsers need to normalize amounts
type ChainInfo struct {
	Network  Network     `json:"network"`
	Symbol   string      `json:"symbol"`
	Decimals int32       `json:"decimals"`
	Tokens   []TokenInfo `json:"tokens,omitempty"`
}

// Token looks a token up by contract address or symbol, case-insensitively.
func (c ChainInfo) Token(contractOrSymbol string) (TokenInfo, bool) {
	for _, t := range c.Tokens {
		if strings.EqualFold(t.Contract, contractOrSymbol) || strings.EqualFold(t.Symbol, contractOrSymbol) {
			return t, true
		}
	}
	return TokenInfo{}, false
}
