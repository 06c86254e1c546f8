package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/parse"
	"github.com/yourorg/chain-explorer/internal/types"
)

// BlockbookOperations lists what a Blockbook v2 instance can serve
var BlockbookOperations = []types.Operation{
	types.OpBalance, types.OpTxDetails, types.OpAddressTxs, types.OpBlockTxs, types.OpBlockHead,
}

// addressPageSize is how many transactions an address query asks for
const addressPageSize = 50

// maxBlockPages bounds how many pages of one block are followed
const maxBlockPages = 100

// BlockbookAdapter implements Adapter for Trezor Blockbook instances
type BlockbookAdapter struct {
	*HTTPAdapter
	parser *parse.Blockbook
}

// NewBlockbookAdapter creates a Blockbook adapter for a UTXO network
func NewBlockbookAdapter(opts Options, info types.ChainInfo) (*BlockbookAdapter, error) {
	base, err := NewHTTPAdapter(opts, BlockbookOperations)
	if err != nil {
		return nil, err
	}
	return &BlockbookAdapter{HTTPAdapter: base, parser: parse.NewBlockbook(info)}, nil
}

// Parser implements Adapter
func (b *BlockbookAdapter) Parser() parse.Parser { return b.parser }

// Fetch implements Adapter
func (b *BlockbookAdapter) Fetch(ctx context.Context, op types.Operation, q model.Query) (model.RawPayload, error) {
	if !b.Supports(op) {
		return nil, unsupportedOp(b.Name(), op)
	}
	var header http.Header
	if key := b.Key(); key != "" {
		header = http.Header{"Api-Key": []string{key}}
	}

	switch op {
	case types.OpBalance:
		return b.Get(ctx, "/api/v2/address/"+url.PathEscape(q.Address), url.Values{"details": {"basic"}}, header)
	case types.OpAddressTxs:
		params := url.Values{"details": {"txs"}, "pageSize": {strconv.Itoa(addressPageSize)}}
		return b.Get(ctx, "/api/v2/address/"+url.PathEscape(q.Address), params, header)
	case types.OpTxDetails:
		return b.Get(ctx, "/api/v2/tx/"+url.PathEscape(q.TxHash), nil, header)
	case types.OpBlockTxs:
		return b.block(ctx, q.Height, header)
	case types.OpBlockHead:
		return b.Get(ctx, "/api", nil, header)
	}
	return nil, unsupportedOp(b.Name(), op)
}

// bbPage is the paging envelope of a Blockbook block
type bbPage struct {
	Page       int               `json:"page"`
	TotalPages int               `json:"totalPages"`
	Txs        []json.RawMessage `json:"txs"`
}

// block fetches every page of the block at height and returns the first page
// with the txs of all pages merged into it. A payload that cannot be merged is
// returned as received and left to the parser to reject.
func (b *BlockbookAdapter) block(ctx context.Context, height int64, header http.Header) (model.RawPayload, error) {
	path := "/api/v2/block/" + strconv.FormatInt(height, 10)
	first, err := b.Get(ctx, path, nil, header)
	if err != nil {
		return nil, err
	}
	var page bbPage
	if json.Unmarshal(first, &page) != nil || page.TotalPages <= 1 {
		return first, nil
	}
	var doc map[string]json.RawMessage
	if json.Unmarshal(first, &doc) != nil {
		return first, nil
	}

	txs := page.Txs
	last := page.TotalPages
	if last > maxBlockPages {
		last = maxBlockPages
	}
	for n := 2; n <= last; n++ {
		raw, err := b.Get(ctx, path, url.Values{"page": {strconv.Itoa(n)}}, header)
		if err != nil {
			return nil, err
		}
		var next bbPage
		if err := json.Unmarshal(raw, &next); err != nil {
			b.log.Debugf("[%s] block %d page %d undecodable: %v", b.Name(), height, n, err)
			break
		}
		txs = append(txs, next.Txs...)
	}

	merged, err := json.Marshal(txs)
	if err != nil {
		return first, nil
	}
	doc["txs"] = merged
	if last == page.TotalPages {
		doc["page"] = json.RawMessage(strconv.Itoa(last))
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return first, nil
	}
	return out, nil
}
