package parse

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/types"
)

// Blockbook parses Trezor Blockbook v2 payloads for UTXO networks.
type Blockbook struct {
	info types.ChainInfo
}

// NewBlockbook creates a Blockbook parser for a network
func NewBlockbook(info types.ChainInfo) *Blockbook {
	return &Blockbook{info: info}
}

type bbAddress struct {
	Address            string `json:"address"`
	Balance            string `json:"balance"`
	UnconfirmedBalance string `json:"unconfirmedBalance"`
	Transactions       []bbTx `json:"transactions"`
}

type bbVin struct {
	Addresses []string `json:"addresses"`
	Value     string   `json:"value"`
}

type bbVout struct {
	Value     string   `json:"value"`
	N         int      `json:"n"`
	Addresses []string `json:"addresses"`
}

type bbTx struct {
	Txid          string   `json:"txid"`
	Vin           []bbVin  `json:"vin"`
	Vout          []bbVout `json:"vout"`
	BlockHash     string   `json:"blockHash"`
	BlockHeight   int64    `json:"blockHeight"`
	Confirmations int64    `json:"confirmations"`
	BlockTime     int64    `json:"blockTime"`
	Fees          string   `json:"fees"`
}

type bbBlock struct {
	Hash       string `json:"hash"`
	Height     int64  `json:"height"`
	Time       int64  `json:"time"`
	Page       int    `json:"page"`
	TotalPages int    `json:"totalPages"`
	TxCount    int    `json:"txCount"`
	Txs        []bbTx `json:"txs"`
}

// complete reports whether the payload carries every transaction of the block
func (b bbBlock) complete() bool {
	if b.TotalPages > 1 && b.Page < b.TotalPages {
		return false
	}
	return b.TxCount == 0 || len(b.Txs) >= b.TxCount
}

type bbStatus struct {
	Blockbook struct {
		BestHeight    int64     `json:"bestHeight"`
		LastBlockTime time.Time `json:"lastBlockTime"`
	} `json:"blockbook"`
	Backend struct {
		Blocks        int64  `json:"blocks"`
		BestBlockHash string `json:"bestBlockHash"`
	} `json:"backend"`
}

// Validate implements Parser
func (p *Blockbook) Validate(op types.Operation, raw model.RawPayload) bool {
	switch op {
	case types.OpBalance:
		var a bbAddress
		return decode(raw, &a) == nil && a.Address != "" && isInteger(a.Balance)
	case types.OpAddressTxs:
		var a bbAddress
		return decode(raw, &a) == nil && a.Address != ""
	case types.OpTxDetails:
		var tx bbTx
		return decode(raw, &tx) == nil && tx.Txid != "" && len(tx.Vout) > 0
	case types.OpBlockTxs:
		var b bbBlock
		return decode(raw, &b) == nil && b.Hash != "" && b.Height > 0 && b.complete()
	case types.OpBlockHead:
		var s bbStatus
		return decode(raw, &s) == nil && (s.Blockbook.BestHeight > 0 || s.Backend.Blocks > 0)
	}
	return false
}

// ParseBalance implements Parser
func (p *Blockbook) ParseBalance(op types.Operation, raw model.RawPayload, q model.Query) (model.Balance, error) {
	if op != types.OpBalance {
		return model.Balance{}, unsupported("blockbook", op)
	}
	var a bbAddress
	if err := decode(raw, &a); err != nil {
		return model.Balance{}, err
	}
	amount, err := units(a.Balance, p.info.Decimals)
	if err != nil {
		return model.Balance{}, err
	}
	b := model.Balance{
		Network: p.info.Network.String(),
		Address: a.Address,
		Amount:  amount,
		Symbol:  p.info.Symbol,
	}
	if a.UnconfirmedBalance != "" && a.UnconfirmedBalance != "0" {
		unconfirmed, err := units(a.UnconfirmedBalance, p.info.Decimals)
		if err != nil {
			return model.Balance{}, err
		}
		b.Unconfirmed = &unconfirmed
	}
	return b, nil
}

// ParseTransfers implements Parser
func (p *Blockbook) ParseTransfers(op types.Operation, raw model.RawPayload, q model.Query) ([]model.TransferTx, error) {
	var txs []bbTx
	switch op {
	case types.OpTxDetails:
		var tx bbTx
		if err := decode(raw, &tx); err != nil {
			return nil, err
		}
		txs = []bbTx{tx}
	case types.OpAddressTxs:
		var a bbAddress
		if err := decode(raw, &a); err != nil {
			return nil, err
		}
		txs = a.Transactions
	case types.OpBlockTxs:
		var b bbBlock
		if err := decode(raw, &b); err != nil {
			return nil, err
		}
		for i := range b.Txs {
			if b.Txs[i].BlockHeight == 0 {
				b.Txs[i].BlockHeight = b.Height
				b.Txs[i].BlockHash = b.Hash
			}
			if b.Txs[i].BlockTime == 0 {
				b.Txs[i].BlockTime = b.Time
			}
		}
		txs = b.Txs
	default:
		return nil, unsupported("blockbook", op)
	}

	out := make([]model.TransferTx, 0, len(txs))
	for _, tx := range txs {
		transfers, err := p.transfers(tx)
		if err != nil {
			return nil, err
		}
		out = append(out, transfers...)
	}
	return out, nil
}

// transfers flattens a UTXO transaction into one transfer per paid output.
// Outputs returning to an input address are change and are skipped unless
// the transaction only pays itself.
func (p *Blockbook) transfers(tx bbTx) ([]model.TransferTx, error) {
	var senders []string
	inputs := make(map[string]bool)
	for _, in := range tx.Vin {
		for _, addr := range in.Addresses {
			if !inputs[addr] {
				senders = append(senders, addr)
			}
			inputs[addr] = true
		}
	}
	var from string
	if len(senders) > 0 {
		from = senders[0]
	}

	var fee *decimal.Decimal
	if tx.Fees != "" {
		f, err := units(tx.Fees, p.info.Decimals)
		if err != nil {
			return nil, err
		}
		fee = &f
	}

	// mempool transactions report height -1
	height := tx.BlockHeight
	if height < 0 {
		height = 0
	}

	var date *time.Time
	if tx.BlockTime > 0 {
		d := time.Unix(tx.BlockTime, 0).UTC()
		date = &d
	}

	build := func(skipChange bool) ([]model.TransferTx, error) {
		var out []model.TransferTx
		for _, vout := range tx.Vout {
			if len(vout.Addresses) == 0 {
				continue
			}
			to := vout.Addresses[0]
			if skipChange && inputs[to] {
				continue
			}
			value, err := units(vout.Value, p.info.Decimals)
			if err != nil {
				return nil, err
			}
			t := model.TransferTx{
				Network:       p.info.Network.String(),
				Hash:          tx.Txid,
				Index:         len(out),
				Success:       true,
				From:          from,
				Inputs:        senders,
				To:            to,
				Value:         value,
				Symbol:        p.info.Symbol,
				Confirmations: tx.Confirmations,
				BlockHeight:   height,
				BlockHash:     tx.BlockHash,
				Date:          date,
			}
			if len(out) == 0 {
				t.Fee = fee
			}
			out = append(out, t)
		}
		return out, nil
	}

	out, err := build(true)
	if err != nil || len(out) > 0 {
		return out, err
	}
	return build(false)
}

// ParseBlockHead implements Parser
func (p *Blockbook) ParseBlockHead(raw model.RawPayload) (model.BlockHead, error) {
	var s bbStatus
	if err := decode(raw, &s); err != nil {
		return model.BlockHead{}, err
	}
	height := s.Blockbook.BestHeight
	if height == 0 {
		height = s.Backend.Blocks
	}
	head := model.BlockHead{
		Network: p.info.Network.String(),
		Height:  height,
		Hash:    s.Backend.BestBlockHash,
	}
	if !s.Blockbook.LastBlockTime.IsZero() {
		ts := s.Blockbook.LastBlockTime.UTC()
		head.Timestamp = &ts
	}
	return head, nil
}
