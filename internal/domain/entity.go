package domain

import (
	"time"
)

// TickRecord is one row of the top-of-book history written by the recorder.
type TickRecord struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	Instrument string    `gorm:"index" json:"instrument"`
	FeedTs     string    `json:"feed_ts"` // Timestamp as sent by the feed
	ReceivedAt time.Time `gorm:"index" json:"received_at"`
	BestBid    string    `json:"best_bid"`
	BestAsk    string    `json:"best_ask"`
	Spread     string    `json:"spread"`
	MidPrice   string    `json:"mid_price"`
	TopBidQty  string    `json:"top_bid_qty"`
	TopAskQty  string    `json:"top_ask_qty"`
}

// SimulationRecord is an audit row for one simulated trade and its cost breakdown.
type SimulationRecord struct {
	ID               string    `gorm:"primaryKey" json:"id"`
	Instrument       string    `gorm:"index" json:"instrument"`
	Side             string    `json:"side"`
	Notional         string    `json:"notional"`
	FilledVolume     string    `json:"filled_volume"`
	AveragePrice     string    `json:"average_price"`
	MidPrice         string    `json:"mid_price"`
	SlippageFraction string    `json:"slippage_fraction"`
	ImpactCost       string    `json:"impact_cost"`
	FeeCost          string    `json:"fee_cost"`
	NetCost          string    `json:"net_cost"`
	CreatedAt        time.Time `json:"created_at"`
}
