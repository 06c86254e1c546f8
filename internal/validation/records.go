// Package validation checks the invariants of normalized explorer records
// before they are handed to a consumer.
package validation

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/chain-explorer/internal/model"
)

// ErrInvariant is returned when a parsed record breaks a normalized record invariant
var ErrInvariant = errors.New("record violates invariant")

// Options holds configuration for the validation process
type Options struct {
	// MaxClockSkew bounds how far in the future a transfer or block date may be
	MaxClockSkew time.Duration

	// Now is the time source, time.Now when nil
	Now func() time.Time
}

// DefaultOptions returns sensible defaults for validation
func DefaultOptions() Options {
	return Options{MaxClockSkew: 2 * time.Hour}
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// Balance checks a normalized balance
func Balance(b model.Balance) error {
	switch {
	case b.Network == "":
		return violation("balance without network")
	case b.Symbol == "":
		return violation("balance of %s without symbol", b.Address)
	case b.Amount.IsNegative():
		return violation("negative balance %s for %s", b.Amount, b.Address)
	}
	return nil
}

// Transfers checks every transfer with DefaultOptions. One bad record rejects the set.
func Transfers(txs []model.TransferTx) error {
	return TransfersWithOptions(txs, DefaultOptions())
}

// TransfersWithOptions checks every transfer with custom options
func TransfersWithOptions(txs []model.TransferTx, opts Options) error {
	for _, tx := range txs {
		if err := transfer(tx, opts); err != nil {
			logrus.WithFields(logrus.Fields{
				"network": tx.Network,
				"hash":    tx.Hash,
				"index":   tx.Index,
			}).Debugf("Rejected transfer: %v", err)
			return err
		}
	}
	return nil
}

func transfer(tx model.TransferTx, opts Options) error {
	switch {
	case tx.Network == "":
		return violation("transfer without network")
	case tx.Hash == "":
		return violation("transfer without hash")
	case tx.Symbol == "":
		return violation("transfer %s without symbol", tx.Hash)
	case tx.Value.IsNegative():
		return violation("negative value %s in %s", tx.Value, tx.Hash)
	case tx.Fee != nil && tx.Fee.IsNegative():
		return violation("negative fee in %s", tx.Hash)
	case tx.Confirmations < 0 || tx.BlockHeight < 0 || tx.Index < 0:
		return violation("negative counter in %s", tx.Hash)
	case tx.Date != nil && tx.Date.After(opts.now().Add(opts.MaxClockSkew)):
		return violation("transfer %s dated in the future", tx.Hash)
	case !tx.Success && tx.Token != "":
		// a reverted transaction moves no tokens, only its attempted native value is reported
		return violation("token transfer in failed transaction %s", tx.Hash)
	case !tx.Success && tx.BlockHeight == 0 && tx.Confirmations > 0:
		return violation("pending transfer %s with confirmations", tx.Hash)
	}
	return nil
}

// BlockHead checks a normalized chain tip
func BlockHead(h model.BlockHead) error {
	if h.Network == "" {
		return violation("block head without network")
	}
	if h.Height <= 0 {
		return violation("non-positive block height %d", h.Height)
	}
	return nil
}
