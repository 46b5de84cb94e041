package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruteri/dlt-service-federation/federation"
	"github.com/ruteri/dlt-service-federation/interfaces"
)

const eventPageSize = 100

// ProviderRequest is the input of the provider workflow.
type ProviderRequest struct {
	Price  uint64
	Filter AnnouncementFilter
	// After is the event cursor to start scanning announcements from.
	After uint64
}

type announcement struct {
	id           interfaces.ServiceID
	creator      interfaces.Identity
	requirements Requirements
	raw          []byte
}

// RunProvider waits for a matching open announcement, bids on it and, if
// chosen, deploys the workload and confirms it on the ledger.
func (c *Coordinator) RunProvider(ctx context.Context, req ProviderRequest) (*Outcome, error) {
	rec := NewStepRecorder(c.now)
	out := c.newOutcome(RoleProvider, rec)

	err := c.runProvider(ctx, req, rec, out)
	if errors.Is(err, ErrTimeout) {
		out.Status = StatusTimeout
		c.finish(ctx, out, rec, err)
		return out, nil
	}
	c.finish(ctx, out, rec, err)
	return out, err
}

func (c *Coordinator) runProvider(ctx context.Context, req ProviderRequest, rec *StepRecorder, out *Outcome) error {
	if c.deployer == nil {
		return errors.New("provider role needs a deployer")
	}
	if err := c.ensureRegistered(ctx); err != nil {
		return err
	}

	cursor := req.After
	var target *announcement
	err := c.await(ctx, "announcement", c.cfg.AnnounceDeadline, func(ctx context.Context) (bool, error) {
		found, next, err := c.scanAnnouncements(ctx, cursor, req.Filter)
		cursor = next
		if err != nil {
			return false, err
		}
		target = found
		return found != nil, nil
	})
	if err != nil {
		return err
	}
	rec.Mark(StepAnnounceReceived)

	id := target.id
	out.ServiceID = id
	out.Counterpart = &target.creator
	out.Price = req.Price
	log := c.log.With("role", RoleProvider, "serviceID", id)
	log.Info("announcement received", "requirements", string(target.raw), "creator", target.creator.String())

	rec.Mark(StepBidOfferSent)
	var bidIndex uint64
	receipt, err := c.submit(ctx, federation.OpPlaceBid, func(ctx context.Context) (*interfaces.Receipt, error) {
		index, receipt, err := c.ledger.PlaceBid(ctx, c.identity, id, req.Price, c.cfg.Endpoint)
		bidIndex = index
		return receipt, err
	}, func(ctx context.Context) (bool, error) {
		index, ok, err := c.findOwnBid(ctx, cursor, id)
		bidIndex = index
		return ok, err
	})
	if err != nil {
		return err
	}
	if receipt != nil {
		if index, ok := receipt.BidIndex(); ok {
			bidIndex = index
		}
	}
	out.BidIndex = &bidIndex
	log.Info("bid placed", "bidIndex", bidIndex, "price", req.Price)

	var winner bool
	err = c.await(ctx, "winner", c.cfg.WinnerDeadline, func(ctx context.Context) (bool, error) {
		state, err := c.ledger.ServiceState(ctx, c.identity, id)
		if err != nil || state == interfaces.StateOpen {
			return false, err
		}
		winner, err = c.ledger.IsWinner(ctx, c.identity, id, c.identity)
		return err == nil, err
	})
	if err != nil {
		return err
	}
	rec.Mark(StepWinnerReceived)

	if !winner {
		rec.Mark(StepOtherProviderChosen)
		log.Info("another provider was chosen")
		out.Status = StatusNotChosen
		return nil
	}

	rec.Mark(StepDeploymentStart)
	info, err := c.ledger.ServiceInfo(ctx, c.identity, id, true)
	if err != nil {
		return err
	}
	out.CounterpartEndpoint = &info.CounterpartEndpoint
	log.Info("selected as provider, deploying", "service", target.requirements.Service, "replicas", target.requirements.Replicas)

	deployment, err := c.deployer.Deploy(ctx, interfaces.DeploymentRequest{
		ServiceID:        id,
		Service:          target.requirements.Service,
		Replicas:         target.requirements.Replicas,
		ConsumerEndpoint: info.CounterpartEndpoint,
	})
	if err != nil {
		return fmt.Errorf("deployment failed: %w", err)
	}

	published := c.cfg.Endpoint
	if deployment.Endpoint != nil && *deployment.Endpoint != c.cfg.Endpoint {
		refined := *deployment.Endpoint
		_, err = c.submit(ctx, federation.OpUpdateEndpoint, func(ctx context.Context) (*interfaces.Receipt, error) {
			return c.ledger.UpdateEndpoint(ctx, c.identity, id, true, refined)
		}, func(ctx context.Context) (bool, error) {
			current, err := c.ledger.Endpoint(ctx, c.identity, id, true)
			return err == nil && current == refined, err
		})
		if err != nil {
			return err
		}
		published = refined
		log.Info("provider endpoint updated", "namespaceID", refined.NamespaceID)
	}

	if c.connector != nil {
		if err := c.connector.Connect(ctx, published, info.CounterpartEndpoint); err != nil {
			return fmt.Errorf("failed to connect to consumer: %w", err)
		}
	}
	rec.Mark(StepDeploymentFinished)

	rec.Mark(StepConfirmDeploymentSent)
	_, err = c.submit(ctx, federation.OpMarkDeployed, func(ctx context.Context) (*interfaces.Receipt, error) {
		return c.ledger.MarkDeployed(ctx, c.identity, id, []byte(deployment.Address))
	}, func(ctx context.Context) (bool, error) {
		state, err := c.ledger.ServiceState(ctx, c.identity, id)
		return state == interfaces.StateDeployed, err
	})
	if err != nil {
		return err
	}
	out.Address = deployment.Address
	out.Status = StatusDeployed
	log.Info("service deployed", "federatedHost", deployment.Address)
	return nil
}

// scanAnnouncements reads events after cursor and returns the latest
// announcement that passes the filter, is not our own and is still open.
func (c *Coordinator) scanAnnouncements(ctx context.Context, cursor uint64, filter AnnouncementFilter) (*announcement, uint64, error) {
	start := cursor
	var candidates []announcement
	for {
		events, err := c.ledger.Events(ctx, cursor, eventPageSize)
		if err != nil {
			return nil, start, err
		}
		for _, ev := range events {
			cursor = ev.Cursor
			if ev.Kind != interfaces.EventServiceAnnounced || ev.Operator == c.identity {
				continue
			}
			req, ok := filter.Match(string(ev.ServiceID), ev.Requirements)
			if !ok {
				c.log.Debug("announcement filtered out", "serviceID", ev.ServiceID, "requirements", string(ev.Requirements))
				continue
			}
			candidates = append(candidates, announcement{
				id:           ev.ServiceID,
				creator:      ev.Operator,
				requirements: req,
				raw:          ev.Requirements,
			})
		}
		if len(events) < eventPageSize {
			break
		}
	}

	for i := len(candidates) - 1; i >= 0; i-- {
		state, err := c.ledger.ServiceState(ctx, c.identity, candidates[i].id)
		if err != nil {
			return nil, start, err
		}
		if state == interfaces.StateOpen {
			return &candidates[i], cursor, nil
		}
	}
	return nil, cursor, nil
}

// findOwnBid looks for a BidPlaced event of ours on id after cursor.
func (c *Coordinator) findOwnBid(ctx context.Context, cursor uint64, id interfaces.ServiceID) (uint64, bool, error) {
	for {
		events, err := c.ledger.Events(ctx, cursor, eventPageSize)
		if err != nil {
			return 0, false, err
		}
		for _, ev := range events {
			cursor = ev.Cursor
			if ev.Kind == interfaces.EventBidPlaced && ev.ServiceID == id && ev.Operator == c.identity && ev.BidCount > 0 {
				return ev.BidCount - 1, true, nil
			}
		}
		if len(events) < eventPageSize {
			return 0, false, nil
		}
	}
}
