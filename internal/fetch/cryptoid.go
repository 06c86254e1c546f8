package fetch

import (
	"context"
	"net/url"

	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/parse"
	"github.com/yourorg/chain-explorer/internal/types"
)

// CryptoidOperations lists what chainz.cryptoid.info can serve
var CryptoidOperations = []types.Operation{types.OpBalance}

// CryptoidAdapter implements Adapter for chainz.cryptoid.info. The base URL
// includes the coin path, e.g. https://chainz.cryptoid.info/ltc.
type CryptoidAdapter struct {
	*HTTPAdapter
	parser *parse.Cryptoid
}

// NewCryptoidAdapter creates a Cryptoid adapter
func NewCryptoidAdapter(opts Options, info types.ChainInfo) (*CryptoidAdapter, error) {
	base, err := NewHTTPAdapter(opts, CryptoidOperations)
	if err != nil {
		return nil, err
	}
	return &CryptoidAdapter{HTTPAdapter: base, parser: parse.NewCryptoid(info)}, nil
}

// Parser implements Adapter
func (c *CryptoidAdapter) Parser() parse.Parser { return c.parser }

// Fetch implements Adapter
func (c *CryptoidAdapter) Fetch(ctx context.Context, op types.Operation, q model.Query) (model.RawPayload, error) {
	if op != types.OpBalance || !c.Supports(op) {
		return nil, unsupportedOp(c.Name(), op)
	}
	params := url.Values{"q": {"getbalances"}, "a": {q.Address}}
	if key := c.Key(); key != "" {
		params.Set("key", key)
	}
	return c.Get(ctx, "/api.dws", params, nil)
}
