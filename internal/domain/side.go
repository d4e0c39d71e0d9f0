package domain

import (
	"fmt"
	"strings"
)

// Side is the direction of a market order.
type Side string

// BookSide names one half of the order book.
type BookSide string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"

	Bids BookSide = "bids"
	Asks BookSide = "asks"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q (want buy or sell)", s)
	}
}

// Consumes returns the book side a market order of this side walks.
// A buy lifts the asks, a sell hits the bids.
func (s Side) Consumes() BookSide {
	if s == SideSell {
		return Bids
	}
	return Asks
}

func (s Side) String() string {
	return string(s)
}

func (b BookSide) String() string {
	return string(b)
}
