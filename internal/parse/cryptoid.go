package parse

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/types"
)

// Cryptoid parses chainz.cryptoid.info balance payloads. The API answers with
// an object keyed by address whose values are amounts in whole coins.
type Cryptoid struct {
	info types.ChainInfo
}

// NewCryptoid creates a Cryptoid parser for a network
func NewCryptoid(info types.ChainInfo) *Cryptoid {
	return &Cryptoid{info: info}
}

func (p *Cryptoid) balances(raw model.RawPayload) (map[string]json.Number, error) {
	var m map[string]json.Number
	if err := decode(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate implements Parser
func (p *Cryptoid) Validate(op types.Operation, raw model.RawPayload) bool {
	if op != types.OpBalance {
		return false
	}
	m, err := p.balances(raw)
	if err != nil || len(m) == 0 {
		return false
	}
	for _, v := range m {
		if _, err := decimal.NewFromString(v.String()); err != nil {
			return false
		}
	}
	return true
}

// ParseBalance implements Parser
func (p *Cryptoid) ParseBalance(op types.Operation, raw model.RawPayload, q model.Query) (model.Balance, error) {
	if op != types.OpBalance {
		return model.Balance{}, unsupported("cryptoid", op)
	}
	m, err := p.balances(raw)
	if err != nil {
		return model.Balance{}, err
	}
	for addr, v := range m {
		if !strings.EqualFold(addr, q.Address) {
			continue
		}
		amount, err := decimal.NewFromString(v.String())
		if err != nil {
			return model.Balance{}, parseErr("amount %q: %v", v, err)
		}
		return model.Balance{
			Network: p.info.Network.String(),
			Address: addr,
			Amount:  amount,
			Symbol:  p.info.Symbol,
		}, nil
	}
	return model.Balance{}, parseErr("address %s missing from cryptoid payload", q.Address)
}

// ParseTransfers implements Parser
func (p *Cryptoid) ParseTransfers(op types.Operation, _ model.RawPayload, _ model.Query) ([]model.TransferTx, error) {
	return nil, unsupported("cryptoid", op)
}

// ParseBlockHead implements Parser
func (p *Cryptoid) ParseBlockHead(model.RawPayload) (model.BlockHead, error) {
	return model.BlockHead{}, unsupported("cryptoid", types.OpBlockHead)
}
