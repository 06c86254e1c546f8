package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/parse"
	"github.com/yourorg/chain-explorer/internal/types"
)

// EtherscanOperations lists what the Etherscan family of APIs can serve
var EtherscanOperations = []types.Operation{
	types.OpBalance, types.OpAddressTxs, types.OpTokenTxs, types.OpTokenBalance, types.OpBlockHead,
}

// EtherscanAdapter implements Adapter for etherscan.io compatible explorers
type EtherscanAdapter struct {
	*HTTPAdapter
	parser *parse.Etherscan
	info   types.ChainInfo
}

// NewEtherscanAdapter creates an Etherscan adapter for an EVM network
func NewEtherscanAdapter(opts Options, info types.ChainInfo) (*EtherscanAdapter, error) {
	base, err := NewHTTPAdapter(opts, EtherscanOperations)
	if err != nil {
		return nil, err
	}
	return &EtherscanAdapter{HTTPAdapter: base, parser: parse.NewEtherscan(info), info: info}, nil
}

// Parser implements Adapter
func (e *EtherscanAdapter) Parser() parse.Parser { return e.parser }

// Token implements TokenCapable
func (e *EtherscanAdapter) Token(contractOrSymbol string) (types.TokenInfo, bool) {
	return e.info.Token(contractOrSymbol)
}

// Fetch implements Adapter
func (e *EtherscanAdapter) Fetch(ctx context.Context, op types.Operation, q model.Query) (model.RawPayload, error) {
	if !e.Supports(op) {
		return nil, unsupportedOp(e.Name(), op)
	}

	params := url.Values{}
	switch op {
	case types.OpBalance:
		params.Set("module", "account")
		params.Set("action", "balance")
		params.Set("address", q.Address)
		params.Set("tag", "latest")
	case types.OpTokenBalance:
		params.Set("module", "account")
		params.Set("action", "tokenbalance")
		params.Set("contractaddress", q.Contract)
		params.Set("address", q.Address)
		params.Set("tag", "latest")
	case types.OpAddressTxs, types.OpTokenTxs:
		params.Set("module", "account")
		params.Set("action", "txlist")
		if op == types.OpTokenTxs {
			params.Set("action", "tokentx")
			if q.Contract != "" {
				params.Set("contractaddress", q.Contract)
			}
		}
		params.Set("address", q.Address)
		params.Set("sort", "desc")
		params.Set("page", "1")
		params.Set("offset", strconv.Itoa(addressPageSize))
	case types.OpBlockHead:
		params.Set("module", "proxy")
		params.Set("action", "eth_blockNumber")
	default:
		return nil, unsupportedOp(e.Name(), op)
	}
	if key := e.Key(); key != "" {
		params.Set("apikey", key)
	}

	raw, err := e.Get(ctx, "/api", params, nil)
	if err != nil {
		return nil, err
	}
	if err := e.checkEnvelope(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// checkEnvelope turns throttling and key errors that Etherscan reports with
// HTTP 200 into the matching provider errors.
func (e *EtherscanAdapter) checkEnvelope(raw model.RawPayload) error {
	var env struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
	}
	if json.Unmarshal(raw, &env) != nil || env.Status != "0" {
		return nil
	}
	var msg string
	if json.Unmarshal(env.Result, &msg) != nil {
		return nil
	}
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit"):
		return e.Throttled(http.StatusOK, 0, fmt.Errorf("%s", msg))
	case strings.Contains(lower, "invalid api key") || strings.Contains(lower, "missing/invalid api key"):
		return e.Unauthorized(http.StatusOK, fmt.Errorf("%s", msg))
	}
	return nil
}
