package validation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/yourorg/chain-explorer/internal/model"
)

func TestBalance(t *testing.T) {
	tests := []struct {
		name    string
		balance model.Balance
		wantErr bool
	}{
		{"valid", model.Balance{Network: "BTC", Symbol: "BTC", Amount: decimal.RequireFromString("0.5")}, false},
		{"zero is valid", model.Balance{Network: "BTC", Symbol: "BTC"}, false},
		{"negative", model.Balance{Network: "BTC", Symbol: "BTC", Amount: decimal.NewFromInt(-1)}, true},
		{"missing symbol", model.Balance{Network: "BTC", Amount: decimal.NewFromInt(1)}, true},
		{"missing network", model.Balance{Symbol: "BTC"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Balance(tt.balance)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvariant)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransfers(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	opts := Options{MaxClockSkew: time.Hour, Now: func() time.Time { return now }}
	past := now.Add(-time.Hour)
	future := now.Add(3 * time.Hour)
	negFee := decimal.NewFromInt(-1)

	valid := model.TransferTx{Network: "ETH", Hash: "0xa", Symbol: "ETH", Value: decimal.NewFromInt(1), Date: &past, Success: true, BlockHeight: 10, Confirmations: 2}

	tests := []struct {
		name    string
		mutate  func(tx *model.TransferTx)
		wantErr bool
	}{
		{"valid", func(tx *model.TransferTx) {}, false},
		{"missing hash", func(tx *model.TransferTx) { tx.Hash = "" }, true},
		{"negative value", func(tx *model.TransferTx) { tx.Value = decimal.NewFromInt(-5) }, true},
		{"negative fee", func(tx *model.TransferTx) { tx.Fee = &negFee }, true},
		{"negative confirmations", func(tx *model.TransferTx) { tx.Confirmations = -1 }, true},
		{"future date", func(tx *model.TransferTx) { tx.Date = &future }, true},
		{"no date is fine", func(tx *model.TransferTx) { tx.Date = nil }, false},
		{"failed keeps attempted value", func(tx *model.TransferTx) { tx.Success = false }, false},
		{"failed token transfer", func(tx *model.TransferTx) {
			tx.Success = false
			tx.Token = "0xdac17f958d2ee523a2206206994597c13d831ec7"
		}, true},
		{"successful token transfer", func(tx *model.TransferTx) { tx.Token = "0xdac17f958d2ee523a2206206994597c13d831ec7" }, false},
		{"pending with confirmations", func(tx *model.TransferTx) {
			tx.Success = false
			tx.BlockHeight = 0
		}, true},
		{"pending", func(tx *model.TransferTx) {
			tx.Success = false
			tx.BlockHeight = 0
			tx.Confirmations = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := valid
			tt.mutate(&tx)
			err := TransfersWithOptions([]model.TransferTx{valid, tx}, opts)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvariant)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.NoError(t, Transfers(nil), "empty result is valid")
}

func TestBlockHead(t *testing.T) {
	assert.NoError(t, BlockHead(model.BlockHead{Network: "BTC", Height: 1}))
	assert.ErrorIs(t, BlockHead(model.BlockHead{Network: "BTC"}), ErrInvariant)
	assert.ErrorIs(t, BlockHead(model.BlockHead{Height: 5}), ErrInvariant)
}
