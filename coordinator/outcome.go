package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ruteri/dlt-service-federation/interfaces"
	"github.com/ruteri/dlt-service-federation/metrics"
)

// Status is the final state of a workflow.
type Status string

const (
	// StatusDeployed means the service reached Deployed with this domain's part done.
	StatusDeployed Status = "deployed"
	// StatusTimeout means a wait expired. Ledger state is left as it was.
	StatusTimeout Status = "timeout"
	// StatusNotChosen means another provider won the service.
	StatusNotChosen Status = "not_chosen"
	// StatusFailed means a ledger rejection or collaborator error ended the workflow.
	StatusFailed Status = "failed"
)

const archiveTimeout = 30 * time.Second

// Outcome is the result of one workflow run, handed to the layer above and
// archived when an archive is configured.
type Outcome struct {
	Role      Role                 `json:"role"`
	Domain    string               `json:"domain"`
	Identity  interfaces.Identity  `json:"identity"`
	ServiceID interfaces.ServiceID `json:"service_id"`
	Status    Status               `json:"status"`
	Error     string               `json:"error,omitempty"`

	// Counterpart is the chosen provider for a consumer and the creator for a provider.
	Counterpart         *interfaces.Identity `json:"counterpart,omitempty"`
	CounterpartEndpoint *interfaces.Endpoint `json:"counterpart_endpoint,omitempty"`
	BidIndex            *uint64              `json:"bid_index,omitempty"`
	Price               uint64               `json:"price,omitempty"`
	// Address is the deployment info recorded by markDeployed.
	Address string `json:"address,omitempty"`

	Steps      []Step    `json:"steps"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	ArchiveID *interfaces.ContentID `json:"-"`
	StepsFile string                `json:"-"`
}

func (c *Coordinator) newOutcome(role Role, rec *StepRecorder) *Outcome {
	return &Outcome{
		Role:      role,
		Domain:    c.cfg.Domain,
		Identity:  c.identity,
		StartedAt: rec.Start(),
	}
}

// finish stamps the outcome, counts it and archives it. Archive and export
// failures are logged; they do not change the outcome.
func (c *Coordinator) finish(ctx context.Context, out *Outcome, rec *StepRecorder, err error) *Outcome {
	out.Steps = rec.Steps()
	out.FinishedAt = c.now()
	if err != nil && out.Status == "" {
		out.Status = StatusFailed
	}
	if err != nil {
		out.Error = err.Error()
	}
	metrics.ObserveOutcome(string(out.Role), string(out.Status))

	log := c.log.With("role", out.Role, "serviceID", out.ServiceID, "status", out.Status)
	if err != nil {
		log.Error("federation workflow finished", "err", err, "duration", out.FinishedAt.Sub(out.StartedAt))
	} else {
		log.Info("federation workflow finished", "duration", out.FinishedAt.Sub(out.StartedAt))
	}

	if c.archive != nil {
		// A cancelled run is still archived.
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		if out.CounterpartEndpoint != nil {
			c.store(archiveCtx, out.CounterpartEndpoint, interfaces.EndpointRecord)
		}
		out.ArchiveID = c.store(archiveCtx, out, interfaces.OutcomeRecord)
		cancel()
	}

	if c.cfg.ExportDir != "" {
		path, exportErr := ExportSteps(c.cfg.ExportDir, out.Role, out.Steps)
		if exportErr != nil {
			log.Warn("failed to export steps", "err", exportErr)
		} else {
			out.StepsFile = path
			log.Debug("steps exported", "path", path)
		}
	}
	return out
}

func (c *Coordinator) store(ctx context.Context, record any, recordType interfaces.RecordType) *interfaces.ContentID {
	data, err := json.Marshal(record)
	if err != nil {
		c.log.Warn("failed to encode record", "type", recordType, "err", err)
		return nil
	}
	id, err := c.archive.Store(ctx, data, recordType)
	if err != nil {
		c.log.Warn("failed to archive record", "type", recordType, "backend", c.archive.Name(), "err", err)
		return nil
	}
	c.log.Debug("record archived", "type", recordType, "id", id.String())
	return &id
}
