package model

import "testing"

func TestCalcReservationBuy(t *testing.T) {
	if got := CalcReservation(DirectionBuy, 100, 10); got != 1000 {
		t.Fatalf("expected 1000, got %d", got)
	}
}

func TestCalcReservationSell(t *testing.T) {
	if got := CalcReservation(DirectionSell, 100, 10); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
}

func TestValidTicker(t *testing.T) {
	cases := map[string]bool{
		"AB":          true,
		"ABCDEFGHIJ":  true,
		"ABCDEFGHIJK": false,
		"A":           false,
		"abc":         false,
		"AB1":         false,
		"":            false,
	}
	for ticker, want := range cases {
		if got := ValidTicker(ticker); got != want {
			t.Errorf("ValidTicker(%q) = %v, want %v", ticker, got, want)
		}
	}
}

func TestOrderIsMarketAndRemaining(t *testing.T) {
	price := int64(100)
	limit := &Order{Qty: 10, Filled: 4, Price: &price}
	if limit.IsMarket() {
		t.Fatal("expected limit order to not be market")
	}
	if limit.Remaining() != 6 {
		t.Fatalf("expected remaining 6, got %d", limit.Remaining())
	}

	market := &Order{Qty: 5, Filled: 0}
	if !market.IsMarket() {
		t.Fatal("expected market order with nil price to report IsMarket")
	}
	if market.Remaining() != 5 {
		t.Fatalf("expected remaining 5, got %d", market.Remaining())
	}
}
