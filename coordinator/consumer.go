package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruteri/dlt-service-federation/federation"
	"github.com/ruteri/dlt-service-federation/interfaces"
)

// ConsumerRequest is the input of the consumer workflow.
type ConsumerRequest struct {
	// ServiceID defaults to "service<unix seconds>".
	ServiceID    interfaces.ServiceID
	Requirements Requirements
	// TargetBids is the number of bids to wait for. The bid deadline ends the
	// wait early; bids received by then are still evaluated.
	TargetBids int
	// Policy defaults to LowestPrice.
	Policy SelectionPolicy
}

// RunConsumer announces a service, picks a provider among the bids and waits
// for the deployment. A deadline expiry ends with StatusTimeout and a nil
// error; rejections and collaborator failures end with StatusFailed.
func (c *Coordinator) RunConsumer(ctx context.Context, req ConsumerRequest) (*Outcome, error) {
	rec := NewStepRecorder(c.now)
	out := c.newOutcome(RoleConsumer, rec)

	err := c.runConsumer(ctx, req, rec, out)
	if errors.Is(err, ErrTimeout) {
		out.Status = StatusTimeout
		c.finish(ctx, out, rec, err)
		return out, nil
	}
	c.finish(ctx, out, rec, err)
	return out, err
}

func (c *Coordinator) runConsumer(ctx context.Context, req ConsumerRequest, rec *StepRecorder, out *Outcome) error {
	if err := req.Requirements.Validate(); err != nil {
		return err
	}
	policy := req.Policy
	if policy == nil {
		policy = LowestPrice
	}
	target := uint64(max(req.TargetBids, 1))

	id := req.ServiceID
	if id == "" {
		id = interfaces.ServiceID(fmt.Sprintf("service%d", c.now().Unix()))
	}
	out.ServiceID = id
	log := c.log.With("role", RoleConsumer, "serviceID", id)

	if err := c.ensureRegistered(ctx); err != nil {
		return err
	}

	requirements := []byte(req.Requirements.String())
	rec.Mark(StepServiceAnnounced)
	_, err := c.submit(ctx, federation.OpAnnounce, func(ctx context.Context) (*interfaces.Receipt, error) {
		return c.ledger.AnnounceService(ctx, c.identity, id, requirements, c.cfg.Endpoint)
	}, func(ctx context.Context) (bool, error) {
		// Only the creator can read the creator view.
		_, err := c.ledger.ServiceInfo(ctx, c.identity, id, false)
		if errors.Is(err, interfaces.ErrServiceNotFound) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return err
	}
	log.Info("service announced", "requirements", string(requirements))

	var count uint64
	err = c.await(ctx, "bids", c.cfg.BidDeadline, func(ctx context.Context) (bool, error) {
		n, err := c.ledger.BidCount(ctx, c.identity, id)
		if err != nil {
			return false, err
		}
		count = n
		return n >= target, nil
	})
	if err != nil && !errors.Is(err, ErrTimeout) {
		return err
	}
	if count == 0 {
		return err
	}
	if err != nil {
		log.Warn("bid deadline passed, evaluating the bids received", "bids", count, "target", target)
	}
	rec.Mark(StepBidOfferReceived)
	log.Info("bids received", "bids", count)

	bids := make([]IndexedBid, 0, count)
	for i := uint64(0); i < count; i++ {
		bid, err := c.ledger.Bid(ctx, c.identity, id, i)
		if err != nil {
			return err
		}
		log.Debug("bid", "index", i, "bidder", bid.Bidder.String(), "price", bid.Price)
		bids = append(bids, IndexedBid{Index: i, Bid: *bid})
	}

	winner, err := policy.Select(bids)
	if err != nil {
		return err
	}
	out.BidIndex = &winner.Index
	out.Price = winner.Price
	out.Counterpart = &winner.Bidder

	rec.Mark(StepWinnerChosen)
	_, err = c.submit(ctx, federation.OpChooseProvider, func(ctx context.Context) (*interfaces.Receipt, error) {
		return c.ledger.ChooseProvider(ctx, c.identity, id, winner.Index)
	}, func(ctx context.Context) (bool, error) {
		return c.ledger.IsWinner(ctx, c.identity, id, winner.Bidder)
	})
	if err != nil {
		return err
	}
	log.Info("provider chosen", "bidIndex", winner.Index, "provider", winner.Bidder.String(), "price", winner.Price)

	err = c.await(ctx, "deployment", c.cfg.DeploymentDeadline, func(ctx context.Context) (bool, error) {
		state, err := c.ledger.ServiceState(ctx, c.identity, id)
		return state == interfaces.StateDeployed, err
	})
	if err != nil {
		return err
	}
	rec.Mark(StepConfirmDeploymentReceived)

	info, err := c.ledger.ServiceInfo(ctx, c.identity, id, false)
	if err != nil {
		return err
	}
	out.Address = string(info.Requirements)
	out.CounterpartEndpoint = &info.CounterpartEndpoint
	log.Info("deployment confirmed", "federatedHost", out.Address)

	if c.connector != nil {
		rec.Mark(StepConnectStart)
		if err := c.connector.Connect(ctx, c.cfg.Endpoint, info.CounterpartEndpoint); err != nil {
			return fmt.Errorf("failed to connect to provider: %w", err)
		}
		rec.Mark(StepConnectFinished)
	}

	out.Status = StatusDeployed
	return nil
}
