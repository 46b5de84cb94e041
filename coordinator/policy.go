package coordinator

import (
	"errors"

	"github.com/ruteri/dlt-service-federation/interfaces"
)

// ErrNoBids is returned by a selection policy given no bids.
var ErrNoBids = errors.New("no bids to choose from")

// IndexedBid is a bid together with its index in the bid pool.
type IndexedBid struct {
	Index uint64
	interfaces.Bid
}

// SelectionPolicy picks the winning bid.
type SelectionPolicy interface {
	Select(bids []IndexedBid) (IndexedBid, error)
}

// SelectionFunc adapts a function to SelectionPolicy.
type SelectionFunc func(bids []IndexedBid) (IndexedBid, error)

func (f SelectionFunc) Select(bids []IndexedBid) (IndexedBid, error) {
	return f(bids)
}

// LowestPrice picks the cheapest bid. Ties go to the lowest index.
var LowestPrice SelectionPolicy = SelectionFunc(func(bids []IndexedBid) (IndexedBid, error) {
	if len(bids) == 0 {
		return IndexedBid{}, ErrNoBids
	}
	best := bids[0]
	for _, bid := range bids[1:] {
		if bid.Price < best.Price || (bid.Price == best.Price && bid.Index < best.Index) {
			best = bid
		}
	}
	return best, nil
})

// MaxPrice drops bids above limit before delegating to next.
func MaxPrice(limit uint64, next SelectionPolicy) SelectionPolicy {
	return SelectionFunc(func(bids []IndexedBid) (IndexedBid, error) {
		affordable := make([]IndexedBid, 0, len(bids))
		for _, bid := range bids {
			if bid.Price <= limit {
				affordable = append(affordable, bid)
			}
		}
		return next.Select(affordable)
	})
}
