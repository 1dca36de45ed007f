package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"toyexchange/internal/model"
)

func limitOrder(direction model.Direction, price, qty, filled int64) *model.Order {
	return &model.Order{Direction: direction, Price: &price, Qty: qty, Filled: filled}
}

func marketOrder(direction model.Direction, qty, filled int64) *model.Order {
	return &model.Order{Direction: direction, Qty: qty, Filled: filled}
}

func TestReservationForLimitBuy(t *testing.T) {
	o := limitOrder(model.DirectionBuy, 100, 10, 0)
	assert.Equal(t, int64(1000), reservationFor(o, 0, 0))
}

func TestReservationForLimitSell(t *testing.T) {
	o := limitOrder(model.DirectionSell, 100, 10, 3)
	assert.Equal(t, int64(7), reservationFor(o, 0, 0))
}

func TestReservationForMarketBuyUsesWalkedCost(t *testing.T) {
	o := marketOrder(model.DirectionBuy, 5, 0)
	assert.Equal(t, int64(350), reservationFor(o, 350, 5))
}

func TestReservationForMarketSellUsesWalkedQty(t *testing.T) {
	o := marketOrder(model.DirectionSell, 5, 0)
	assert.Equal(t, int64(5), reservationFor(o, 999, 5))
}

func TestCancelReservationBuy(t *testing.T) {
	o := limitOrder(model.DirectionBuy, 50, 10, 4)
	asset, amount := CancelReservation(o)
	assert.Equal(t, model.RUB, asset)
	assert.Equal(t, int64(300), amount)
}

func TestCancelReservationSell(t *testing.T) {
	o := limitOrder(model.DirectionSell, 50, 10, 4)
	o.Ticker = "ABC"
	asset, amount := CancelReservation(o)
	assert.Equal(t, "ABC", asset)
	assert.Equal(t, int64(6), amount)
}
