package bybit

import (
	"strconv"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/exchange"
)

// bybitResponse is the V5 envelope around every REST result.
type bybitResponse[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
	Time    int64  `json:"time"`
}

type orderListResult struct {
	List []orderItem `json:"list"`
}

// orderItem is one order as reported by /v5/order/realtime and history.
// Bybit serializes all numbers as strings.
type orderItem struct {
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Side        string `json:"side"`
	OrderStatus string `json:"orderStatus"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	AvgPrice    string `json:"avgPrice"`
	UpdatedTime string `json:"updatedTime"`
}

func (it orderItem) toOrderState(symbol string) exchange.OrderState {
	qty, _ := strconv.ParseFloat(it.Qty, 64)
	filled, _ := strconv.ParseFloat(it.CumExecQty, 64)
	avg, _ := strconv.ParseFloat(it.AvgPrice, 64)
	tsMs, _ := strconv.ParseInt(it.UpdatedTime, 10, 64)

	return exchange.OrderState{
		ExchangeOrderID: it.OrderID,
		ClientOrderID:   it.OrderLinkID,
		Symbol:          symbol,
		Side:            domain.Side(it.Side),
		Status:          mapOrderStatus(it.OrderStatus),
		Quantity:        qty,
		FilledQuantity:  filled,
		AvgFillPrice:    avg,
		UpdatedAt:       time.UnixMilli(tsMs),
	}
}

// mapOrderStatus folds Bybit's order states onto the core's lifecycle.
func mapOrderStatus(s string) domain.OrderStatus {
	switch s {
	case "New", "Untriggered", "Created":
		return domain.OrderStatusSubmitted
	case "PartiallyFilled":
		return domain.OrderStatusSubmitted
	case "Filled":
		return domain.OrderStatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return domain.OrderStatusCancelled
	case "Rejected":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusPending
	}
}

type tickerItem struct {
	Symbol     string `json:"symbol"`
	LastPrice  string `json:"lastPrice"`
	Turnover24 string `json:"turnover24h"`
}

type klineResult struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"`
}
