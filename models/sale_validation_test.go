package models

import (
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/scrapstock_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSale() *NewSale {
	return &NewSale{
		ItemName:  "MS Plate",
		Qty:       decimal.NewFromInt(5),
		Rate:      decimal.NewFromInt(1200),
		BuyerName: "Golden Field",
		SaleDate:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNewSaleValidateAccepts(t *testing.T) {
	assert.NoError(t, validSale().validate())
}

func TestNewSaleValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*NewSale)
	}{
		{"missing item name", func(s *NewSale) { s.ItemName = "" }},
		{"missing buyer", func(s *NewSale) { s.BuyerName = "" }},
		{"zero date", func(s *NewSale) { s.SaleDate = time.Time{} }},
		{"zero qty", func(s *NewSale) { s.Qty = decimal.Zero }},
		{"negative qty", func(s *NewSale) { s.Qty = decimal.NewFromInt(-3) }},
		{"negative rate", func(s *NewSale) { s.Rate = decimal.NewFromInt(-1) }},
		{"manual portion without lot", func(s *NewSale) {
			s.Manual = []LotPortion{{LotID: 0, Qty: decimal.NewFromInt(5)}}
		}},
		{"manual portion zero qty", func(s *NewSale) {
			s.Manual = []LotPortion{{LotID: 1, Qty: decimal.Zero}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validSale()
			tc.mutate(input)
			err := input.validate()
			var ve *utils.ValidationError
			require.Error(t, err)
			assert.True(t, errors.As(err, &ve), "want ValidationError, got %T: %v", err, err)
		})
	}
}

func TestNewSaleStrategyIsExplicit(t *testing.T) {
	auto := validSale()
	assert.Equal(t, AllocationModeAuto, auto.strategy().Mode)

	manual := validSale()
	manual.Manual = []LotPortion{{LotID: 3, Qty: decimal.NewFromInt(5)}}
	s := manual.strategy()
	assert.Equal(t, AllocationModeManual, s.Mode)
	require.Len(t, s.Portions, 1)
	assert.Equal(t, 3, s.Portions[0].LotID)
}
