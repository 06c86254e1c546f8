package parse

import (
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/types"
)

// Etherscan parses payloads of the Etherscan family of explorer APIs
// (etherscan.io, bscscan.com, arbiscan.io).
type Etherscan struct {
	info types.ChainInfo
}

// NewEtherscan creates an Etherscan parser for a network
func NewEtherscan(info types.ChainInfo) *Etherscan {
	return &Etherscan{info: info}
}

type esEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type esTx struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	BlockHash       string `json:"blockHash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	GasPrice        string `json:"gasPrice"`
	GasUsed         string `json:"gasUsed"`
	IsError         string `json:"isError"`
	Confirmations   string `json:"confirmations"`
	ContractAddress string `json:"contractAddress"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
}

// esNoTransactions is the message Etherscan sends with status "0" for an empty list
const esNoTransactions = "No transactions found"

func (p *Etherscan) envelope(raw model.RawPayload) (esEnvelope, error) {
	var env esEnvelope
	if err := decode(raw, &env); err != nil {
		return env, err
	}
	return env, nil
}

// list decodes a list result. An empty list reported with status "0" is a
// valid empty answer, not a failure.
func (p *Etherscan) list(raw model.RawPayload) ([]esTx, error) {
	env, err := p.envelope(raw)
	if err != nil {
		return nil, err
	}
	var txs []esTx
	if err := json.Unmarshal(env.Result, &txs); err != nil {
		return nil, parseErr("result list: %v", err)
	}
	if env.Status != "1" && !(len(txs) == 0 && strings.HasPrefix(env.Message, esNoTransactions)) {
		return nil, parseErr("status %s: %s", env.Status, env.Message)
	}
	return txs, nil
}

// Validate implements Parser
func (p *Etherscan) Validate(op types.Operation, raw model.RawPayload) bool {
	switch op {
	case types.OpBalance, types.OpTokenBalance:
		env, err := p.envelope(raw)
		if err != nil || env.Status != "1" {
			return false
		}
		var s string
		return json.Unmarshal(env.Result, &s) == nil && isInteger(s)
	case types.OpAddressTxs, types.OpTokenTxs:
		txs, err := p.list(raw)
		if err != nil {
			return false
		}
		for _, tx := range txs {
			if tx.Hash == "" || !isInteger(tx.Value) {
				return false
			}
		}
		return true
	case types.OpBlockHead:
		res, err := single(raw)
		if err != nil {
			return false
		}
		s, ok := hexString(res)
		if !ok {
			return false
		}
		_, err = hexutil.DecodeUint64(s)
		return err == nil
	}
	return false
}

// ParseBalance implements Parser
func (p *Etherscan) ParseBalance(op types.Operation, raw model.RawPayload, q model.Query) (model.Balance, error) {
	env, err := p.envelope(raw)
	if err != nil {
		return model.Balance{}, err
	}
	var s string
	if err := json.Unmarshal(env.Result, &s); err != nil {
		return model.Balance{}, parseErr("balance result: %v", err)
	}

	b := model.Balance{
		Network: p.info.Network.String(),
		Address: normalizeAddress(q.Address),
	}
	switch op {
	case types.OpBalance:
		b.Symbol = p.info.Symbol
		b.Amount, err = units(s, p.info.Decimals)
	case types.OpTokenBalance:
		var t types.TokenInfo
		if t, err = token(p.info, q.Contract); err != nil {
			return model.Balance{}, err
		}
		b.Symbol = t.Symbol
		b.Token = normalizeAddress(t.Contract)
		b.Amount, err = units(s, t.Decimals)
	default:
		return model.Balance{}, unsupported("etherscan", op)
	}
	if err != nil {
		return model.Balance{}, err
	}
	return b, nil
}

// ParseTransfers implements Parser
func (p *Etherscan) ParseTransfers(op types.Operation, raw model.RawPayload, q model.Query) ([]model.TransferTx, error) {
	if op != types.OpAddressTxs && op != types.OpTokenTxs {
		return nil, unsupported("etherscan", op)
	}
	txs, err := p.list(raw)
	if err != nil {
		return nil, err
	}

	out := make([]model.TransferTx, 0, len(txs))
	perHash := make(map[string]int)
	for _, tx := range txs {
		t, err := p.transfer(op, tx)
		if err != nil {
			return nil, err
		}
		t.Index = perHash[t.Hash]
		perHash[t.Hash]++
		out = append(out, t)
	}
	return out, nil
}

func (p *Etherscan) transfer(op types.Operation, tx esTx) (model.TransferTx, error) {
	t := model.TransferTx{
		Network:   p.info.Network.String(),
		Hash:      strings.ToLower(tx.Hash),
		From:      normalizeAddress(tx.From),
		To:        normalizeAddress(tx.To),
		BlockHash: tx.BlockHash,
	}
	t.BlockHeight, _ = strconv.ParseInt(tx.BlockNumber, 10, 64)
	t.Confirmations, _ = strconv.ParseInt(tx.Confirmations, 10, 64)
	if ts, err := strconv.ParseInt(tx.TimeStamp, 10, 64); err == nil && ts > 0 {
		d := time.Unix(ts, 0).UTC()
		t.Date = &d
	}

	var err error
	switch op {
	case types.OpTokenTxs:
		// token events are only emitted by successful transactions
		t.Success = true
		t.Token = normalizeAddress(tx.ContractAddress)
		t.Symbol = tx.TokenSymbol
		decimals := int64(-1)
		if tx.TokenDecimal != "" {
			decimals, err = strconv.ParseInt(tx.TokenDecimal, 10, 32)
			if err != nil {
				return t, parseErr("token decimals %q: %v", tx.TokenDecimal, err)
			}
		}
		if known, ok := p.info.Token(tx.ContractAddress); ok {
			t.Symbol = known.Symbol
			decimals = int64(known.Decimals)
		}
		if decimals < 0 {
			return t, parseErr("unknown precision for token %s", tx.ContractAddress)
		}
		t.Value, err = units(tx.Value, int32(decimals))
	default:
		t.Success = tx.IsError == "0" || tx.IsError == ""
		t.Symbol = p.info.Symbol
		if t.To == "" && tx.ContractAddress != "" {
			t.To = normalizeAddress(tx.ContractAddress)
		}
		t.Value, err = units(tx.Value, p.info.Decimals)
		if isInteger(tx.GasUsed) && isInteger(tx.GasPrice) {
			used, _ := new(big.Int).SetString(tx.GasUsed, 10)
			price, _ := new(big.Int).SetString(tx.GasPrice, 10)
			fee := bigUnits(new(big.Int).Mul(used, price), p.info.Decimals)
			t.Fee = &fee
		}
	}
	return t, err
}

// ParseBlockHead implements Parser. Etherscan only proxies eth_blockNumber,
// so the head carries no hash.
func (p *Etherscan) ParseBlockHead(raw model.RawPayload) (model.BlockHead, error) {
	res, err := single(raw)
	if err != nil {
		return model.BlockHead{}, err
	}
	s, ok := hexString(res)
	if !ok {
		return model.BlockHead{}, parseErr("block number is not hex")
	}
	height, err := hexutil.DecodeUint64(s)
	if err != nil {
		return model.BlockHead{}, parseErr("block number %s: %v", s, err)
	}
	return model.BlockHead{Network: p.info.Network.String(), Height: int64(height)}, nil
}
