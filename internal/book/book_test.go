package book

import (
	"testing"
	"time"

	"toyexchange/internal/model"
)

func entry(id, user string, price, qty int64) *OrderEntry {
	return &OrderEntry{OrderID: id, UserID: user, Price: price, Qty: qty, TotalQty: qty, Timestamp: time.Now()}
}

func TestAddAndBestBidAsk(t *testing.T) {
	b := New("TEST")
	b.Add(model.DirectionBuy, entry("b1", "u1", 40, 10))
	b.Add(model.DirectionBuy, entry("b2", "u1", 45, 5))
	b.Add(model.DirectionSell, entry("a1", "u2", 55, 10))
	b.Add(model.DirectionSell, entry("a2", "u2", 60, 5))

	if bb, ok := b.BestBid(); !ok || bb != 45 {
		t.Fatalf("expected best bid 45, got %v ok=%v", bb, ok)
	}
	if ba, ok := b.BestAsk(); !ok || ba != 55 {
		t.Fatalf("expected best ask 55, got %v ok=%v", ba, ok)
	}
}

func TestPriceTimePriority(t *testing.T) {
	b := New("TEST")
	b.Add(model.DirectionSell, entry("a1", "u2", 50, 3))
	b.Add(model.DirectionSell, entry("a2", "u2", 50, 3))

	price := int64(50)
	matches := b.FindMatches(model.DirectionSell, &price, 4)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].OrderID != "a1" || matches[0].Qty != 3 {
		t.Fatalf("expected first match a1 qty 3, got %+v", matches[0])
	}
	if matches[1].OrderID != "a2" || matches[1].Qty != 1 {
		t.Fatalf("expected second match a2 qty 1, got %+v", matches[1])
	}
}

func TestPartialFillAcrossLevels(t *testing.T) {
	b := New("TEST")
	b.Add(model.DirectionSell, entry("a1", "u2", 50, 2))
	b.Add(model.DirectionSell, entry("a2", "u2", 55, 3))
	b.Add(model.DirectionSell, entry("a3", "u2", 60, 5))

	price := int64(60)
	matches := b.FindMatches(model.DirectionSell, &price, 6)
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	var total int64
	for _, m := range matches {
		total += m.Qty
	}
	if total != 6 {
		t.Fatalf("expected total fill 6, got %d", total)
	}
	if matches[2].Qty != 1 {
		t.Fatalf("expected partial fill 1 at 60, got %d", matches[2].Qty)
	}
}

func TestMarketOrderNoPriceBound(t *testing.T) {
	b := New("TEST")
	b.Add(model.DirectionSell, entry("a1", "u2", 50, 10))

	matches := b.FindMatches(model.DirectionSell, nil, 5)
	if len(matches) != 1 || matches[0].Qty != 5 {
		t.Fatalf("expected 1 match for 5 qty, got %d matches", len(matches))
	}
}

func TestSelfTradeAllowed(t *testing.T) {
	b := New("TEST")
	b.Add(model.DirectionSell, entry("a1", "u1", 50, 5))
	b.Add(model.DirectionSell, entry("a2", "u2", 55, 5))

	price := int64(99)
	matches := b.FindMatches(model.DirectionSell, &price, 3)
	if len(matches) != 1 || matches[0].UserID != "u1" {
		t.Fatalf("expected match against resting order from same user u1, got %+v", matches)
	}
}

func TestRemoveOrder(t *testing.T) {
	b := New("TEST")
	b.Add(model.DirectionBuy, entry("b1", "u1", 50, 5))
	b.Add(model.DirectionBuy, entry("b2", "u1", 50, 3))

	if !b.Remove("b1") {
		t.Fatal("expected to remove b1")
	}
	if bb, ok := b.BestBid(); !ok || bb != 50 {
		t.Fatal("best bid should still be 50")
	}
}

func TestRemoveLastAtLevel(t *testing.T) {
	b := New("TEST")
	b.Add(model.DirectionSell, entry("a1", "u1", 50, 5))
	b.Remove("a1")

	if _, ok := b.BestAsk(); ok {
		t.Fatal("expected no best ask after removing only order")
	}
}

func TestApplyFillPartial(t *testing.T) {
	b := New("TEST")
	b.Add(model.DirectionSell, entry("a1", "u1", 50, 10))
	b.ApplyFill("a1", 3)

	matches := b.FindMatches(model.DirectionSell, nil, 100)
	if len(matches) != 1 || matches[0].Qty != 7 {
		t.Fatalf("expected remaining qty 7, got %+v", matches)
	}
}

func TestApplyFillFull(t *testing.T) {
	b := New("TEST")
	b.Add(model.DirectionSell, entry("a1", "u1", 50, 5))
	b.ApplyFill("a1", 5)

	if _, ok := b.BestAsk(); ok {
		t.Fatal("order should be fully removed from book")
	}
}

func TestSnapshotDepth(t *testing.T) {
	b := New("TEST")
	for i := int64(1); i <= 5; i++ {
		b.Add(model.DirectionBuy, entry("b", "u1", 40+i, 1))
	}
	for i := int64(1); i <= 5; i++ {
		b.Add(model.DirectionSell, entry("a", "u2", 50+i, 1))
	}
	// duplicate OrderID "b"/"a" would collide; use distinct ids instead.
	b = New("TEST")
	for i := int64(1); i <= 5; i++ {
		b.Add(model.DirectionBuy, entry(string(rune('b'))+string(rune('0'+i)), "u1", 40+i, 1))
	}
	for i := int64(1); i <= 5; i++ {
		b.Add(model.DirectionSell, entry(string(rune('a'))+string(rune('0'+i)), "u2", 50+i, 1))
	}

	snap := b.Snapshot(3)
	if len(snap.BidLevels) != 3 {
		t.Fatalf("expected 3 bid levels, got %d", len(snap.BidLevels))
	}
	if len(snap.AskLevels) != 3 {
		t.Fatalf("expected 3 ask levels, got %d", len(snap.AskLevels))
	}
	if snap.BidLevels[0].Price != 45 {
		t.Fatalf("expected top bid 45, got %d", snap.BidLevels[0].Price)
	}
	if snap.AskLevels[0].Price != 51 {
		t.Fatalf("expected top ask 51, got %d", snap.AskLevels[0].Price)
	}
}

func TestDuplicateAddIgnored(t *testing.T) {
	b := New("TEST")
	b.Add(model.DirectionBuy, entry("b1", "u1", 50, 5))
	b.Add(model.DirectionBuy, entry("b1", "u1", 50, 5))

	matches := b.FindMatches(model.DirectionBuy, nil, 100)
	if len(matches) != 1 {
		t.Fatalf("expected 1 resting entry (dup ignored), got %d", len(matches))
	}
}

func TestFindMatchesBuySide(t *testing.T) {
	b := New("TEST")
	b.Add(model.DirectionBuy, entry("b1", "u1", 60, 5))
	b.Add(model.DirectionBuy, entry("b2", "u1", 55, 5))

	price := int64(55)
	matches := b.FindMatches(model.DirectionBuy, &price, 8)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Price != 60 {
		t.Fatalf("expected first fill at 60, got %d", matches[0].Price)
	}
	var total int64
	for _, m := range matches {
		total += m.Qty
	}
	if total != 8 {
		t.Fatalf("expected total 8, got %d", total)
	}
}
