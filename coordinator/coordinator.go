package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/dlt-service-federation/federation"
	"github.com/ruteri/dlt-service-federation/interfaces"
	"github.com/ruteri/dlt-service-federation/metrics"
)

// ErrTimeout is returned when a wait exceeds its deadline.
var ErrTimeout = errors.New("federation wait timed out")

// Collaborators are the domain-side services a coordinator delegates to.
// Any of them may be nil: a consumer needs no Deployer, and without a
// Connector no overlay is configured.
type Collaborators struct {
	Deployer  interfaces.Deployer
	Connector interfaces.Connector
	Archive   interfaces.StorageBackend
}

// Coordinator drives one domain through the federation protocol. It holds no
// authoritative state; everything it decides on is read back from the ledger.
type Coordinator struct {
	ledger    interfaces.FederationLedger
	identity  interfaces.Identity
	cfg       Config
	deployer  interfaces.Deployer
	connector interfaces.Connector
	archive   interfaces.StorageBackend
	log       *slog.Logger
	now       func() time.Time
}

// New creates a coordinator acting as identity on ledger.
func New(ledger interfaces.FederationLedger, identity interfaces.Identity, cfg Config, collab Collaborators, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		ledger:    ledger,
		identity:  identity,
		cfg:       cfg.withDefaults(),
		deployer:  collab.Deployer,
		connector: collab.Connector,
		archive:   collab.Archive,
		log:       log.With("identity", identity.String(), "domain", cfg.Domain),
		now:       time.Now,
	}
}

// Identity returns the ledger identity the coordinator acts as.
func (c *Coordinator) Identity() interfaces.Identity {
	return c.identity
}

// submit sends a transaction, retrying only transport failures. Before every
// resend it asks applied whether an earlier attempt was committed after all;
// if so the send is skipped and submit returns a nil receipt.
func (c *Coordinator) submit(ctx context.Context, op federation.Op, send func(context.Context) (*interfaces.Receipt, error), applied func(context.Context) (bool, error)) (*interfaces.Receipt, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.SubmitAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.SubmitBackoff * time.Duration(attempt-1)):
			}

			done, err := applied(ctx)
			switch {
			case err == nil && done:
				metrics.ObserveSubmission(string(op), "already_applied")
				c.log.Info("transaction already committed", "op", op, "attempt", attempt)
				return nil, nil
			case err != nil:
				c.log.Debug("could not check ledger state before resubmitting", "op", op, "err", err)
			}
		}

		receipt, err := send(ctx)
		if err == nil {
			metrics.ObserveSubmission(string(op), "ok")
			if receipt != nil {
				c.log.Debug("transaction committed", "op", op, "txHash", receipt.TxHash.String(), "height", receipt.Height)
			}
			return receipt, nil
		}

		lastErr = err
		if !errors.Is(err, interfaces.ErrLedgerUnavailable) {
			metrics.ObserveSubmission(string(op), resultKind(err))
			return nil, err
		}
		metrics.ObserveSubmission(string(op), "unavailable")
		c.log.Warn("transaction submission failed", "op", op, "attempt", attempt, "err", err)
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", op, c.cfg.SubmitAttempts, lastErr)
}

func resultKind(err error) string {
	if name := interfaces.KindName(err); name != "" {
		return name
	}
	return "error"
}

// await polls check until it reports done or timeout elapses. Transport
// failures while polling are tolerated; any other error ends the wait.
func (c *Coordinator) await(ctx context.Context, what string, timeout time.Duration, check func(context.Context) (bool, error)) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		done, err := check(waitCtx)
		switch {
		case err == nil && done:
			return nil
		case err != nil && !transient(err):
			return err
		case err != nil:
			c.log.Debug("poll failed", "waitingFor", what, "err", err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s after %s", ErrTimeout, what, timeout)
		case <-ticker.C:
		}
	}
}

func transient(err error) bool {
	return errors.Is(err, interfaces.ErrLedgerUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ensureRegistered registers the domain unless the identity already is.
func (c *Coordinator) ensureRegistered(ctx context.Context) error {
	name, err := c.ledger.Lookup(ctx, c.identity)
	switch {
	case err == nil:
		c.log.Debug("operator already registered", "name", name)
		return nil
	case !errors.Is(err, interfaces.ErrNotRegistered) && !transient(err):
		return err
	}

	registered := func(ctx context.Context) (bool, error) {
		_, err := c.ledger.Lookup(ctx, c.identity)
		if errors.Is(err, interfaces.ErrNotRegistered) {
			return false, nil
		}
		return err == nil, err
	}

	_, err = c.submit(ctx, federation.OpRegister, func(ctx context.Context) (*interfaces.Receipt, error) {
		return c.ledger.Register(ctx, c.identity, c.cfg.Domain)
	}, registered)
	// A transport failure on the first lookup leaves the identity possibly registered.
	if errors.Is(err, interfaces.ErrAlreadyRegistered) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to register domain %q: %w", c.cfg.Domain, err)
	}
	c.log.Info("domain registered")
	return nil
}

// Unregister removes the domain's operator record.
func (c *Coordinator) Unregister(ctx context.Context) error {
	_, err := c.submit(ctx, federation.OpUnregister, func(ctx context.Context) (*interfaces.Receipt, error) {
		return c.ledger.Unregister(ctx, c.identity)
	}, func(ctx context.Context) (bool, error) {
		_, err := c.ledger.Lookup(ctx, c.identity)
		if errors.Is(err, interfaces.ErrNotRegistered) {
			return true, nil
		}
		return false, err
	})
	return err
}
