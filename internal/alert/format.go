package alert

import (
	"fmt"
	"html"
	"strings"
	"time"

	"signalbot/internal/core"

	"github.com/shopspring/decimal"
)

const timeLayout = "02.01.2006 15:04"

// TradeOpened describes a fully protected new position
type TradeOpened struct {
	Symbol     string
	Side       core.Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Leverage   int
	Time       time.Time
}

// PositionResult describes a closed or unwound position
type PositionResult struct {
	Symbol       string
	Side         core.PositionSide
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	ChangePct    decimal.Decimal
	LeveragedPct decimal.Decimal
	PnLQuote     decimal.Decimal
	Reason       string
	Time         time.Time
}

// Status is PROFIT for a non-negative result, LOSS otherwise
func (r PositionResult) Status() string {
	if r.LeveragedPct.IsNegative() {
		return "LOSS"
	}
	return "PROFIT"
}

func sideEmoji(long bool) string {
	if long {
		return "🟢"
	}
	return "🔴"
}

func line(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "<b>%s:</b> %s\n", label, html.EscapeString(value))
}

// FormatTradeOpened renders the new-trade notification
func FormatTradeOpened(t TradeOpened) string {
	long := t.Side == core.SideBuy
	direction := "LONG"
	if !long {
		direction = "SHORT"
	}
	targetPct := decimal.Zero
	if !t.EntryPrice.IsZero() {
		targetPct = t.TakeProfit.Sub(t.EntryPrice).Div(t.EntryPrice).Abs().Mul(decimal.NewFromInt(100))
	}

	var b strings.Builder
	emoji := sideEmoji(long)
	fmt.Fprintf(&b, "%s <b>NEW TRADE OPENED</b> %s\n\n", emoji, emoji)
	line(&b, "Symbol", t.Symbol)
	line(&b, "Direction", direction)
	line(&b, "Quantity", t.Quantity.String())
	line(&b, "Entry", t.EntryPrice.StringFixed(4))
	line(&b, "TP", fmt.Sprintf("%s (+%s%%, %s%% leveraged)",
		t.TakeProfit.StringFixed(4), targetPct.StringFixed(2),
		targetPct.Mul(decimal.NewFromInt(int64(t.Leverage))).StringFixed(2)))
	line(&b, "SL", t.StopLoss.StringFixed(4))
	line(&b, "Leverage", fmt.Sprintf("%dx", t.Leverage))
	fmt.Fprintf(&b, "\n⏰ %s", t.Time.Format(timeLayout))
	return b.String()
}

func signedPct(p decimal.Decimal) string {
	s := p.StringFixed(2)
	if !p.IsNegative() {
		s = "+" + s
	}
	return s + "%"
}

func formatResult(title string, r PositionResult) string {
	emoji := "✅"
	if r.Status() == "LOSS" {
		emoji = "❌"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b> %s\n\n", emoji, title, emoji)
	line(&b, "Symbol", r.Symbol)
	line(&b, "Position", string(r.Side))
	line(&b, "Entry Price", r.EntryPrice.StringFixed(4))
	line(&b, "Exit Price", r.ExitPrice.StringFixed(4))
	line(&b, "Price Change", signedPct(r.ChangePct))
	line(&b, "Leveraged P&amp;L", signedPct(r.LeveragedPct))
	line(&b, "P&amp;L (quote)", r.PnLQuote.StringFixed(4))
	line(&b, "Status", r.Status())
	if r.Reason != "" {
		line(&b, "Reason", r.Reason)
	}
	fmt.Fprintf(&b, "\n⏰ %s", r.Time.Format(timeLayout))
	return b.String()
}

// FormatPositionClosed renders the venue-side close notification
func FormatPositionClosed(r PositionResult) string {
	return formatResult("POSITION CLOSED", r)
}

// FormatPositionCanceled renders the unwind notification
func FormatPositionCanceled(r PositionResult) string {
	return formatResult("POSITION CANCELED", r)
}

// FormatFailure renders a warning, or a critical alert when critical is set
func FormatFailure(title string, err error, critical bool) string {
	icon := "⚠️"
	if critical {
		icon = "🚨 CRITICAL:"
	}
	msg := fmt.Sprintf("%s <b>%s</b>", icon, html.EscapeString(title))
	if err != nil {
		msg += "\n" + html.EscapeString(err.Error())
	}
	return msg
}

// FormatBotStarted renders the startup banner
func FormatBotStarted(symbol, strategy, timeframe string, leverage int) string {
	return fmt.Sprintf("🟢 <b>Trading bot started</b>\n%s · %s · %s · %dx",
		html.EscapeString(symbol), html.EscapeString(strategy), html.EscapeString(timeframe), leverage)
}

// FormatBotStopped renders the shutdown banner
func FormatBotStopped(symbol string) string {
	return fmt.Sprintf("🔴 <b>Trading bot stopped</b>\n%s", html.EscapeString(symbol))
}
