package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"matchcore/internal/common"
	"matchcore/internal/engine"
)

var (
	buyColor    = lipgloss.Color("#10B981") // Green
	sellColor   = lipgloss.Color("#EF4444") // Red
	borderColor = lipgloss.Color("#374151")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#9CA3AF"))

	buyStyle  = lipgloss.NewStyle().Foreground(buyColor)
	sellStyle = lipgloss.NewStyle().Foreground(sellColor)
)

func sideStyle(side common.Side) lipgloss.Style {
	if side == common.Buy {
		return buyStyle
	}
	return sellStyle
}

// recentTrades keeps the last n trades of symbol, oldest first.
func recentTrades(trades []common.Trade, symbol string, n int) []common.Trade {
	var out []common.Trade
	for _, trade := range trades {
		if trade.Symbol() == symbol {
			out = append(out, trade)
		}
	}
	if n >= 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// renderBook lays out bids and asks side by side, best prices on top,
// followed by the given trades.
func renderBook(book *engine.OrderBook, trades []common.Trade) string {
	bids := book.Levels(common.Buy)
	asks := book.Levels(common.Sell)

	var content strings.Builder
	content.WriteString(headerStyle.Render(fmt.Sprintf("%10s %10s %4s │ %-10s %-10s %4s", "BidQty", "Bid", "#", "Ask", "AskQty", "#")))
	content.WriteString("\n")

	rows := max(len(bids), len(asks))
	for i := 0; i < rows; i++ {
		bid := fmt.Sprintf("%10s %10s %4s", "", "", "")
		ask := ""
		if i < len(bids) {
			bid = fmt.Sprintf("%10s %10s %4d", bids[i].Quantity, bids[i].Price, len(bids[i].Orders))
		}
		if i < len(asks) {
			ask = fmt.Sprintf("%-10s %-10s %4d", asks[i].Price, asks[i].Quantity, len(asks[i].Orders))
		}
		content.WriteString(fmt.Sprintf("%s │ %s\n", buyStyle.Render(bid), sellStyle.Render(ask)))
	}
	if rows == 0 {
		content.WriteString("empty book\n")
	}

	content.WriteString("\n")
	content.WriteString(headerStyle.Render("Recent Trades"))
	for _, trade := range trades {
		content.WriteString("\n")
		content.WriteString(sideStyle(trade.TakerSide()).Render(
			fmt.Sprintf("%8s @ %-10s %s <- %s", trade.Quantity(), trade.Price(), orAnonymous(trade.BuyOwner()), orAnonymous(trade.SellOwner())),
		))
	}

	title := titleStyle.Render(fmt.Sprintf("Order book %s (%d orders)", book.Symbol(), book.Len()))
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, content.String()))
}

func renderPositions(positions []engine.Position) string {
	var content strings.Builder
	content.WriteString(headerStyle.Render(fmt.Sprintf("%-12s %-8s %10s %10s %10s", "User", "Symbol", "Qty", "AvgPx", "Realized")))
	for _, p := range positions {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("%-12s %-8s %10s %10s %10s", p.User(), p.Symbol(), p.Quantity(), p.AveragePrice(), p.RealizedPnL()))
	}
	if len(positions) == 0 {
		content.WriteString("\nno positions")
	}
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render("Positions"), content.String()))
}

func orAnonymous(owner string) string {
	if owner == "" {
		return "-"
	}
	return owner
}
