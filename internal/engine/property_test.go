package engine

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"matchcore/internal/common"
)

type orderSpec struct {
	side     common.Side
	price    int64
	quantity int64
	cancel   bool // cancel the oldest resting order instead of placing
}

var orderSpecGen = rapid.Custom(func(t *rapid.T) orderSpec {
	return orderSpec{
		side:     rapid.SampledFrom([]common.Side{common.Buy, common.Sell}).Draw(t, "side"),
		price:    rapid.Int64Range(95, 105).Draw(t, "price"),
		quantity: rapid.Int64Range(1, 20).Draw(t, "quantity"),
		cancel:   rapid.IntRange(0, 9).Draw(t, "cancel") == 0,
	}
})

type tradeFingerprint struct {
	buy, sell, price, quantity string
}

// runSpecs feeds specs into a fresh book with deterministic ids and returns
// the book and every trade produced.
func runSpecs(t *rapid.T, specs []orderSpec) (*OrderBook, []common.Trade) {
	book := createTestOrderBook()
	var trades []common.Trade
	for i, spec := range specs {
		if spec.cancel {
			if orders := book.Orders(); len(orders) > 0 {
				if _, err := book.CancelOrder(orders[0].ID()); err != nil {
					t.Fatalf("cancel %s: %v", orders[0].ID(), err)
				}
			}
			continue
		}
		order, err := common.NewOrder(fmt.Sprintf("o-%d", i), "", testSymbol, spec.side,
			decimal.NewFromInt(spec.quantity), common.MustPrice(fmt.Sprint(spec.price)))
		if err != nil {
			t.Fatalf("new order: %v", err)
		}
		produced, err := book.Place(order)
		if err != nil {
			t.Fatalf("place %s: %v", order.ID(), err)
		}
		trades = append(trades, produced...)
		checkBookInvariants(t, book)
	}
	return book, trades
}

func checkBookInvariants(t *rapid.T, book *OrderBook) {
	bid, hasBid := book.BestBid()
	ask, hasAsk := book.BestAsk()
	if hasBid && hasAsk && bid.Price().Cmp(ask.Price()) >= 0 {
		t.Fatalf("book left crossed: bid %s >= ask %s", bid.Price(), ask.Price())
	}

	for _, order := range book.Orders() {
		if !order.Quantity().IsPositive() || order.Quantity().GreaterThan(order.OriginalQuantity()) {
			t.Fatalf("order %s remaining %s outside (0, %s]", order.ID(), order.Quantity(), order.OriginalQuantity())
		}
		partial := order.Quantity().LessThan(order.OriginalQuantity())
		if partial != (order.Status() == common.PartiallyFilled) {
			t.Fatalf("order %s is %v with %s of %s left", order.ID(), order.Status(), order.Quantity(), order.OriginalQuantity())
		}
		if partial == (order.Status() == common.New) {
			t.Fatalf("order %s is %v with %s of %s left", order.ID(), order.Status(), order.Quantity(), order.OriginalQuantity())
		}
	}
}

func TestProperty_BookInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		specs := rapid.SliceOfN(orderSpecGen, 1, 60).Draw(t, "specs")
		book, trades := runSpecs(t, specs)

		// Quantity is conserved: what was submitted either traded (twice,
		// once per side), still rests, or was cancelled.
		submitted, cancelled := decimal.Zero, decimal.Zero
		for _, spec := range specs {
			if !spec.cancel {
				submitted = submitted.Add(decimal.NewFromInt(spec.quantity))
			}
		}
		resting := decimal.Zero
		for _, order := range book.Orders() {
			resting = resting.Add(order.Quantity())
		}
		traded := decimal.Zero
		for _, trade := range trades {
			traded = traded.Add(trade.Quantity())
		}
		cancelled = submitted.Sub(resting).Sub(traded.Mul(decimal.NewFromInt(2)))
		if cancelled.IsNegative() {
			t.Fatalf("more quantity left the book than entered: submitted %s, resting %s, traded %s", submitted, resting, traded)
		}
	})
}

func TestProperty_ExecutionPriceIsEarlierOrders(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		specs := rapid.SliceOfN(orderSpecGen, 1, 40).Draw(t, "specs")
		_, trades := runSpecs(t, specs)

		prices := make(map[string]int64)
		for i, spec := range specs {
			prices[fmt.Sprintf("o-%d", i)] = spec.price
		}
		for _, trade := range trades {
			// Ids are handed out in arrival order, so the lower index is the
			// order that was resting.
			var buyIdx, sellIdx int
			fmt.Sscanf(trade.BuyOrderID(), "o-%d", &buyIdx)
			fmt.Sscanf(trade.SellOrderID(), "o-%d", &sellIdx)
			want := prices[trade.BuyOrderID()]
			if sellIdx < buyIdx {
				want = prices[trade.SellOrderID()]
			}
			if !trade.Price().Get().Equal(decimal.NewFromInt(want)) {
				t.Fatalf("trade %s/%s at %s, want %d", trade.BuyOrderID(), trade.SellOrderID(), trade.Price(), want)
			}
		}
	})
}

func TestProperty_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		specs := rapid.SliceOfN(orderSpecGen, 1, 40).Draw(t, "specs")
		_, first := runSpecs(t, specs)
		_, second := runSpecs(t, specs)

		if len(first) != len(second) {
			t.Fatalf("runs produced %d and %d trades", len(first), len(second))
		}
		for i := range first {
			a := tradeFingerprint{first[i].BuyOrderID(), first[i].SellOrderID(), first[i].Price().String(), first[i].Quantity().String()}
			b := tradeFingerprint{second[i].BuyOrderID(), second[i].SellOrderID(), second[i].Price().String(), second[i].Quantity().String()}
			if a != b {
				t.Fatalf("trade %d differs: %+v vs %+v", i, a, b)
			}
		}
	})
}
