// Package parse turns raw provider payloads into normalized explorer records.
// Each provider family has its own parser; parsers are pure and never perform I/O.
package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yourorg/chain-explorer/internal/model"
	"github.com/yourorg/chain-explorer/internal/types"
)

var (
	// ErrValidation marks a payload whose shape is not what the parser expects
	ErrValidation = errors.New("payload failed validation")

	// ErrParse marks a payload that validated but could not be normalized
	ErrParse = errors.New("payload could not be parsed")
)

// Parser validates and normalizes the payloads of one provider family.
type Parser interface {
	// Validate reports whether raw has the shape expected for op
	Validate(op types.Operation, raw model.RawPayload) bool

	// ParseBalance handles OpBalance and OpTokenBalance
	ParseBalance(op types.Operation, raw model.RawPayload, q model.Query) (model.Balance, error)

	// ParseTransfers handles OpTxDetails, OpAddressTxs, OpBlockTxs and OpTokenTxs
	ParseTransfers(op types.Operation, raw model.RawPayload, q model.Query) ([]model.TransferTx, error)

	// ParseBlockHead handles OpBlockHead
	ParseBlockHead(raw model.RawPayload) (model.BlockHead, error)
}

func parseErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...))
}

func unsupported(parser string, op types.Operation) error {
	return parseErr("%s parser does not handle %s", parser, op)
}

func decode(raw model.RawPayload, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return parseErr("decode: %v", err)
	}
	return nil
}

// units converts an integer amount in base units to the display unit.
func units(s string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, parseErr("amount %q: %v", s, err)
	}
	return d.Shift(-decimals), nil
}

func bigUnits(b *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(b, -decimals)
}

func isInteger(s string) bool {
	if s == "" {
		return false
	}
	_, ok := new(big.Int).SetString(s, 10)
	return ok
}

// token resolves token metadata, failing when the precision is unknown.
func token(info types.ChainInfo, contract string) (types.TokenInfo, error) {
	t, ok := info.Token(contract)
	if !ok {
		return types.TokenInfo{}, parseErr("unknown token %s on %s", contract, info.Network)
	}
	return t, nil
}
