package entity

import "github.com/goccy/go-json"

// Bybit V5 wire types. Every endpoint answers with the same envelope;
// retCode 0 means success and retMsg carries the upstream error text
// otherwise.
type BybitResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// BybitErrLeverageNotModified is returned when the requested leverage is
// already in effect. The raw API conflates this no-op with an error.
const BybitErrLeverageNotModified = 110043

type BybitInstrumentsInfoResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol        string `json:"symbol"`
		LotSizeFilter struct {
			MinOrderQty string `json:"minOrderQty"`
			MaxOrderQty string `json:"maxOrderQty"`
			QtyStep     string `json:"qtyStep"`
		} `json:"lotSizeFilter"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
			MinPrice string `json:"minPrice"`
			MaxPrice string `json:"maxPrice"`
		} `json:"priceFilter"`
	} `json:"list"`
}

type BybitWalletBalanceResult struct {
	List []struct {
		AccountType           string `json:"accountType"`
		TotalEquity           string `json:"totalEquity"`
		TotalAvailableBalance string `json:"totalAvailableBalance"`
		Coin                  []struct {
			Coin          string `json:"coin"`
			WalletBalance string `json:"walletBalance"`
		} `json:"coin"`
	} `json:"list"`
}

type BybitPositionListResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Size          string `json:"size"`
		AvgPrice      string `json:"avgPrice"`
		MarkPrice     string `json:"markPrice"`
		Leverage      string `json:"leverage"`
		PositionValue string `json:"positionValue"`
		UnrealisedPnl string `json:"unrealisedPnl"`
	} `json:"list"`
}

type BybitOrderCreateResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Price       string `json:"price,omitempty"`
	Qty         string `json:"qty,omitempty"`
}

type BybitOrderCancelResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}
