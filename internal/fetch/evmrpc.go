package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/parse"
	"github.com/yourorg/chain-explorer/internal/types"
)

// EVMRPCOperations lists what a JSON-RPC node can serve
var EVMRPCOperations = []types.Operation{
	types.OpBalance, types.OpTxDetails, types.OpBlockTxs, types.OpBlockHead, types.OpTokenBalance,
}

// balanceOfSelector is the ERC-20 balanceOf(address) selector
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// rpcLimitExceeded is the JSON-RPC error code nodes use for throttling
const rpcLimitExceeded = -32005

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func newRPCRequest(id int, method string, params ...interface{}) rpcRequest {
	return rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// EVMRPCAdapter implements Adapter for Ethereum JSON-RPC endpoints. When keys
// are configured they are appended to the URL path, as hosted node providers expect.
type EVMRPCAdapter struct {
	*HTTPAdapter
	parser *parse.EVMRPC
	info   types.ChainInfo
}

// NewEVMRPCAdapter creates a JSON-RPC adapter for an EVM network
func NewEVMRPCAdapter(opts Options, info types.ChainInfo) (*EVMRPCAdapter, error) {
	base, err := NewHTTPAdapter(opts, EVMRPCOperations)
	if err != nil {
		return nil, err
	}
	return &EVMRPCAdapter{HTTPAdapter: base, parser: parse.NewEVMRPC(info), info: info}, nil
}

// Parser implements Adapter
func (e *EVMRPCAdapter) Parser() parse.Parser { return e.parser }

// Token implements TokenCapable
func (e *EVMRPCAdapter) Token(contractOrSymbol string) (types.TokenInfo, bool) {
	return e.info.Token(contractOrSymbol)
}

// Fetch implements Adapter
func (e *EVMRPCAdapter) Fetch(ctx context.Context, op types.Operation, q model.Query) (model.RawPayload, error) {
	if !e.Supports(op) {
		return nil, unsupportedOp(e.Name(), op)
	}

	var body interface{}
	switch op {
	case types.OpBalance:
		body = newRPCRequest(parse.RPCIDPrimary, "eth_getBalance", q.Address, "latest")
	case types.OpTokenBalance:
		if !common.IsHexAddress(q.Address) || !common.IsHexAddress(q.Contract) {
			return nil, fmt.Errorf("adapter %s: invalid address or contract", e.Name())
		}
		data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(common.HexToAddress(q.Address).Bytes(), 32)...)
		call := map[string]string{"to": q.Contract, "data": hexutil.Encode(data)}
		body = newRPCRequest(parse.RPCIDPrimary, "eth_call", call, "latest")
	case types.OpTxDetails:
		body = []rpcRequest{
			newRPCRequest(parse.RPCIDPrimary, "eth_getTransactionByHash", q.TxHash),
			newRPCRequest(parse.RPCIDReceipt, "eth_getTransactionReceipt", q.TxHash),
			newRPCRequest(parse.RPCIDHead, "eth_blockNumber"),
		}
	case types.OpBlockTxs:
		height := hexutil.EncodeUint64(uint64(q.Height))
		body = []rpcRequest{
			newRPCRequest(parse.RPCIDPrimary, "eth_getBlockByNumber", height, true),
			newRPCRequest(parse.RPCIDReceipt, "eth_getBlockReceipts", height),
		}
	case types.OpBlockHead:
		body = newRPCRequest(parse.RPCIDPrimary, "eth_getBlockByNumber", "latest", false)
	default:
		return nil, unsupportedOp(e.Name(), op)
	}

	path := ""
	if key := e.Key(); key != "" {
		path = "/" + key
	}
	raw, err := e.PostJSON(ctx, path, body)
	if err != nil {
		return nil, err
	}
	if msg, ok := rpcThrottled(raw); ok {
		return nil, e.Throttled(http.StatusOK, 0, fmt.Errorf("%s", msg))
	}
	return raw, nil
}

type rpcErrorOnly struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// rpcThrottled detects nodes that report throttling inside a 200 response
func rpcThrottled(raw model.RawPayload) (string, bool) {
	var resps []rpcErrorOnly
	if err := json.Unmarshal(raw, &resps); err != nil {
		var single rpcErrorOnly
		if json.Unmarshal(raw, &single) != nil {
			return "", false
		}
		resps = []rpcErrorOnly{single}
	}
	for _, r := range resps {
		if r.Error == nil {
			continue
		}
		msg := strings.ToLower(r.Error.Message)
		if r.Error.Code == rpcLimitExceeded || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
			return r.Error.Message, true
		}
	}
	return "", false
}
