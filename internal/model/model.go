// Package model defines the normalized records returned by the explorer.
package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RawPayload is the undecoded body returned by a provider. Adapters never
// interpret it; parsers own the decoding.
type RawPayload = json.RawMessage

// Transfer directions accepted by address queries.
const (
	DirectionAny      = ""
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Query carries the per-call parameters of an operation. Only the fields the
// operation needs are set.
type Query struct {
	Address   string `json:"address,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`
	Contract  string `json:"contract,omitempty"`
	Height    int64  `json:"height,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// Balance is the normalized balance of one address in the network's native
// currency or, when Token is set, in that token.
type Balance struct {
	Network string          `json:"network"`
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`

	// Unconfirmed is the pending delta, only reported by UTXO sources
	Unconfirmed *decimal.Decimal `json:"unconfirmed,omitempty"`

	// Symbol of the currency the amount is denominated in
	Symbol string `json:"symbol"`

	// Token contract, empty for the native currency
	Token string `json:"token,omitempty"`

	Provider string `json:"provider,omitempty"`
}

// TransferTx is one value movement inside a transaction. A transaction with
// several outputs or token transfers maps to several TransferTx sharing Hash.
type TransferTx struct {
	Network string `json:"network"`
	Hash    string `json:"hash"`

	// Index orders transfers within the same transaction
	Index int `json:"index"`

	Success bool   `json:"success"`
	From    string `json:"from"`

	// Inputs lists every spending address of a UTXO transaction, From included
	Inputs []string `json:"inputs,omitempty"`

	To     string          `json:"to"`
	Value  decimal.Decimal `json:"value"`
	Symbol string          `json:"symbol"`
	Token  string          `json:"token,omitempty"`

	Fee           *decimal.Decimal `json:"fee,omitempty"`
	Confirmations int64            `json:"confirmations"`

	// BlockHeight is zero for pending transactions
	BlockHeight int64      `json:"block_height,omitempty"`
	BlockHash   string     `json:"block_hash,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
	Memo        string     `json:"memo,omitempty"`

	Provider string `json:"provider,omitempty"`
}

// Involves reports whether addr is the sender or the receiver of the transfer.
func (t TransferTx) Involves(addr string) bool {
	return t.SentBy(addr) || strings.EqualFold(t.To, addr)
}

// SentBy reports whether addr funded the transfer
func (t TransferTx) SentBy(addr string) bool {
	if strings.EqualFold(t.From, addr) {
		return true
	}
	for _, in := range t.Inputs {
		if strings.EqualFold(in, addr) {
			return true
		}
	}
	return false
}

// MatchesDirection reports whether the transfer matches direction relative to addr.
func (t TransferTx) MatchesDirection(addr, direction string) bool {
	switch direction {
	case DirectionIncoming:
		return strings.EqualFold(t.To, addr)
	case DirectionOutgoing:
		return t.SentBy(addr)
	default:
		return true
	}
}

// BlockHead describes the chain tip seen by a provider.
type BlockHead struct {
	Network   string     `json:"network"`
	Height    int64      `json:"height"`
	Hash      string     `json:"hash,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Provider  string     `json:"provider,omitempty"`
}

// BlockTxs is the result for one block of a range query.
type BlockTxs struct {
	Height   int64        `json:"height"`
	Txs      []TransferTx `json:"txs"`
	Provider string       `json:"provider,omitempty"`
}
