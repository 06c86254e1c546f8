package parse

import (
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/types"
)

// JSON-RPC request ids used by the EVM adapter inside batch calls.
const (
	RPCIDPrimary = 1
	RPCIDReceipt = 2
	RPCIDHead    = 3
)

// erc20TransferTopic is keccak256("Transfer(address,address,uint256)")
var erc20TransferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// EVMRPC parses Ethereum JSON-RPC responses.
type EVMRPC struct {
	info types.ChainInfo
}

// NewEVMRPC creates a JSON-RPC parser for an EVM network
func NewEVMRPC(info types.ChainInfo) *EVMRPC {
	return &EVMRPC{info: info}
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcTx struct {
	Hash        string          `json:"hash"`
	From        string          `json:"from"`
	To          *string         `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	GasPrice    *hexutil.Big    `json:"gasPrice"`
	BlockNumber *hexutil.Uint64 `json:"blockNumber"`
	BlockHash   *string         `json:"blockHash"`
}

type rpcLog struct {
	Address string        `json:"address"`
	Topics  []common.Hash `json:"topics"`
	Data    string        `json:"data"`
}

type rpcReceipt struct {
	TransactionHash   string          `json:"transactionHash"`
	Status            *hexutil.Uint64 `json:"status"`
	GasUsed           *hexutil.Big    `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
	ContractAddress   *string         `json:"contractAddress"`
	Logs              []rpcLog        `json:"logs"`
}

type rpcHeader struct {
	Number    *hexutil.Uint64 `json:"number"`
	Hash      string          `json:"hash"`
	Timestamp hexutil.Uint64  `json:"timestamp"`
}

type rpcBlock struct {
	rpcHeader
	Transactions []rpcTx `json:"transactions"`
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// single decodes a non-batch response and returns its result.
func single(raw model.RawPayload) (json.RawMessage, error) {
	var resp rpcResponse
	if err := decode(raw, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, parseErr("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if isNull(resp.Result) {
		return nil, parseErr("rpc result is null")
	}
	return resp.Result, nil
}

// batch decodes a batch response into results keyed by request id.
func batch(raw model.RawPayload) (map[int]json.RawMessage, error) {
	var resps []rpcResponse
	if err := decode(raw, &resps); err != nil {
		return nil, err
	}
	out := make(map[int]json.RawMessage, len(resps))
	for _, r := range resps {
		if r.Error != nil {
			return nil, parseErr("rpc error %d in batch id %d: %s", r.Error.Code, r.ID, r.Error.Message)
		}
		out[r.ID] = r.Result
	}
	return out, nil
}

func hexString(raw json.RawMessage) (string, bool) {
	var s string
	if json.Unmarshal(raw, &s) != nil || !strings.HasPrefix(s, "0x") {
		return "", false
	}
	return s, true
}

// Validate implements Parser
func (p *EVMRPC) Validate(op types.Operation, raw model.RawPayload) bool {
	switch op {
	case types.OpBalance:
		res, err := single(raw)
		if err != nil {
			return false
		}
		s, ok := hexString(res)
		if !ok {
			return false
		}
		_, err = hexutil.DecodeBig(s)
		return err == nil
	case types.OpTokenBalance:
		res, err := single(raw)
		if err != nil {
			return false
		}
		s, ok := hexString(res)
		return ok && len(s) > 2
	case types.OpBlockHead:
		res, err := single(raw)
		if err != nil {
			return false
		}
		var h rpcHeader
		return json.Unmarshal(res, &h) == nil && h.Number != nil && h.Hash != ""
	case types.OpTxDetails:
		res, err := batch(raw)
		if err != nil {
			return false
		}
		var tx rpcTx
		if isNull(res[RPCIDPrimary]) || json.Unmarshal(res[RPCIDPrimary], &tx) != nil || tx.Hash == "" {
			return false
		}
		_, ok := hexString(res[RPCIDHead])
		return ok
	case types.OpBlockTxs:
		res, err := batch(raw)
		if err != nil || isNull(res[RPCIDPrimary]) || isNull(res[RPCIDReceipt]) {
			return false
		}
		var b rpcBlock
		var receipts []rpcReceipt
		return json.Unmarshal(res[RPCIDPrimary], &b) == nil && b.Number != nil &&
			json.Unmarshal(res[RPCIDReceipt], &receipts) == nil && len(receipts) == len(b.Transactions)
	}
	return false
}

// ParseBalance implements Parser
func (p *EVMRPC) ParseBalance(op types.Operation, raw model.RawPayload, q model.Query) (model.Balance, error) {
	res, err := single(raw)
	if err != nil {
		return model.Balance{}, err
	}
	s, ok := hexString(res)
	if !ok {
		return model.Balance{}, parseErr("result is not a hex string")
	}

	b := model.Balance{
		Network: p.info.Network.String(),
		Address: normalizeAddress(q.Address),
	}
	switch op {
	case types.OpBalance:
		wei, err := hexutil.DecodeBig(s)
		if err != nil {
			return model.Balance{}, parseErr("balance %s: %v", s, err)
		}
		b.Amount = bigUnits(wei, p.info.Decimals)
		b.Symbol = p.info.Symbol
	case types.OpTokenBalance:
		t, err := token(p.info, q.Contract)
		if err != nil {
			return model.Balance{}, err
		}
		// eth_call returns a 32 byte word with leading zeros
		b.Amount = bigUnits(common.HexToHash(s).Big(), t.Decimals)
		b.Symbol = t.Symbol
		b.Token = normalizeAddress(t.Contract)
	default:
		return model.Balance{}, unsupported("evm_rpc", op)
	}
	return b, nil
}

// ParseTransfers implements Parser
func (p *EVMRPC) ParseTransfers(op types.Operation, raw model.RawPayload, q model.Query) ([]model.TransferTx, error) {
	res, err := batch(raw)
	if err != nil {
		return nil, err
	}
	switch op {
	case types.OpTxDetails:
		var tx rpcTx
		if err := json.Unmarshal(res[RPCIDPrimary], &tx); err != nil {
			return nil, parseErr("transaction: %v", err)
		}
		var receipt *rpcReceipt
		if !isNull(res[RPCIDReceipt]) {
			receipt = &rpcReceipt{}
			if err := json.Unmarshal(res[RPCIDReceipt], receipt); err != nil {
				return nil, parseErr("receipt: %v", err)
			}
		}
		var head hexutil.Uint64
		if err := json.Unmarshal(res[RPCIDHead], &head); err != nil {
			return nil, parseErr("block number: %v", err)
		}
		return p.transfers(tx, receipt, int64(head), nil)
	case types.OpBlockTxs:
		var b rpcBlock
		if err := json.Unmarshal(res[RPCIDPrimary], &b); err != nil {
			return nil, parseErr("block: %v", err)
		}
		var receipts []rpcReceipt
		if err := json.Unmarshal(res[RPCIDReceipt], &receipts); err != nil {
			return nil, parseErr("receipts: %v", err)
		}
		byHash := make(map[string]*rpcReceipt, len(receipts))
		for i := range receipts {
			byHash[strings.ToLower(receipts[i].TransactionHash)] = &receipts[i]
		}
		ts := time.Unix(int64(b.Timestamp), 0).UTC()
		out := make([]model.TransferTx, 0, len(b.Transactions))
		for _, tx := range b.Transactions {
			receipt, ok := byHash[strings.ToLower(tx.Hash)]
			if !ok {
				return nil, parseErr("no receipt for %s", tx.Hash)
			}
			transfers, err := p.transfers(tx, receipt, 0, &ts)
			if err != nil {
				return nil, err
			}
			out = append(out, transfers...)
		}
		return out, nil
	}
	return nil, unsupported("evm_rpc", op)
}

// transfers emits the native value movement and every Transfer event of a
// known token. A transaction without either still yields its native entry so
// contract calls stay visible. A missing receipt means the tx is pending.
func (p *EVMRPC) transfers(tx rpcTx, receipt *rpcReceipt, head int64, date *time.Time) ([]model.TransferTx, error) {
	base := model.TransferTx{
		Network: p.info.Network.String(),
		Hash:    strings.ToLower(tx.Hash),
		From:    normalizeAddress(tx.From),
		Date:    date,
	}
	if tx.BlockNumber != nil {
		base.BlockHeight = int64(*tx.BlockNumber)
		if head >= base.BlockHeight {
			base.Confirmations = head - base.BlockHeight + 1
		}
	}
	if tx.BlockHash != nil {
		base.BlockHash = *tx.BlockHash
	}

	var logs []rpcLog
	if receipt != nil {
		base.Success = receipt.Status != nil && *receipt.Status == 1
		logs = receipt.Logs
		if receipt.GasUsed != nil {
			price := receipt.EffectiveGasPrice
			if price == nil {
				price = tx.GasPrice
			}
			if price != nil {
				wei := new(big.Int).Mul(receipt.GasUsed.ToInt(), price.ToInt())
				fee := bigUnits(wei, p.info.Decimals)
				base.Fee = &fee
			}
		}
	}

	var out []model.TransferTx
	value := new(big.Int)
	if tx.Value != nil {
		value = tx.Value.ToInt()
	}

	native := base
	native.Symbol = p.info.Symbol
	native.Value = bigUnits(value, p.info.Decimals)
	switch {
	case tx.To != nil:
		native.To = normalizeAddress(*tx.To)
	case receipt != nil && receipt.ContractAddress != nil:
		native.To = normalizeAddress(*receipt.ContractAddress)
	}

	for _, l := range logs {
		if len(l.Topics) != 3 || l.Topics[0] != erc20TransferTopic {
			continue
		}
		t, ok := p.info.Token(l.Address)
		if !ok {
			continue
		}
		amount, err := hexutil.DecodeBig(trimWord(l.Data))
		if err != nil {
			return nil, parseErr("transfer log data %s: %v", l.Data, err)
		}
		tt := base
		tt.From = normalizeAddress(common.BytesToAddress(l.Topics[1].Bytes()).Hex())
		tt.To = normalizeAddress(common.BytesToAddress(l.Topics[2].Bytes()).Hex())
		tt.Value = bigUnits(amount, t.Decimals)
		tt.Symbol = t.Symbol
		tt.Token = normalizeAddress(t.Contract)
		out = append(out, tt)
	}

	if value.Sign() > 0 || len(out) == 0 {
		out = append([]model.TransferTx{native}, out...)
	}
	for i := range out {
		out[i].Index = i
		if i > 0 {
			out[i].Fee = nil
		}
	}
	return out, nil
}

// ParseBlockHead implements Parser
func (p *EVMRPC) ParseBlockHead(raw model.RawPayload) (model.BlockHead, error) {
	res, err := single(raw)
	if err != nil {
		return model.BlockHead{}, err
	}
	var b rpcHeader
	if err := json.Unmarshal(res, &b); err != nil || b.Number == nil {
		return model.BlockHead{}, parseErr("latest block: %v", err)
	}
	ts := time.Unix(int64(b.Timestamp), 0).UTC()
	return model.BlockHead{
		Network:   p.info.Network.String(),
		Height:    int64(*b.Number),
		Hash:      b.Hash,
		Timestamp: &ts,
	}, nil
}

// trimWord strips leading zero nibbles so hexutil accepts a 32 byte word.
func trimWord(s string) string {
	h := strings.TrimLeft(strings.TrimPrefix(s, "0x"), "0")
	if h == "" {
		h = "0"
	}
	return "0x" + h
}

func normalizeAddress(addr string) string {
	if !common.IsHexAddress(addr) {
		return addr
	}
	return strings.ToLower(common.HexToAddress(addr).Hex())
}
