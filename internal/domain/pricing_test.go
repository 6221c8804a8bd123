package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
)

func TestFitsColumn(t *testing.T) {
	tests := []struct {
		value  string
		places int32
		want   bool
	}{
		{"2.5", domain.WeightPlaces, true},
		{"2.500", domain.WeightPlaces, true},
		{"2.5000", domain.WeightPlaces, true},
		{"2.0005", domain.WeightPlaces, false},
		{"0.0004", domain.WeightPlaces, false},
		{"9999999.999", domain.WeightPlaces, true},
		{"10000000", domain.WeightPlaces, false},
		{"4.50", domain.PricePlaces, true},
		{"4.505", domain.PricePlaces, false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.FitsColumn(kg(tt.value), tt.places, domain.MaxWeightKg))
		})
	}
}

func TestPriceBooking_SubGramWeight(t *testing.T) {
	q := domain.PriceBooking(kg("2.001"), kg("4.50"), kg("10"))

	assert.Equal(t, int64(900), q.Amount)
	assert.Equal(t, int64(90), q.ServiceFee)
	assert.Equal(t, int64(810), q.TravelerAmount)
}
