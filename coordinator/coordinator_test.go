package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/dlt-service-federation/federation"
	"github.com/ruteri/dlt-service-federation/interfaces"
	"github.com/ruteri/dlt-service-federation/ledger"
	"github.com/ruteri/dlt-service-federation/orchestrator"
	"github.com/ruteri/dlt-service-federation/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	domain1 = interfaces.Identity{0xd1}
	domain2 = interfaces.Identity{0xd2}
	domain3 = interfaces.Identity{0xd3}
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(domain string, endpoint interfaces.Endpoint) Config {
	return Config{
		Domain:             domain,
		Endpoint:           endpoint,
		PollInterval:       5 * time.Millisecond,
		AnnounceDeadline:   5 * time.Second,
		BidDeadline:        5 * time.Second,
		WinnerDeadline:     5 * time.Second,
		DeploymentDeadline: 5 * time.Second,
		SubmitAttempts:     3,
		SubmitBackoff:      time.Millisecond,
	}
}

func newLocalLedger(t *testing.T) *ledger.Local {
	t.Helper()
	l, err := ledger.NewLocal(context.Background(), ledger.Config{Log: quietLogger()})
	require.NoError(t, err)
	return l
}

func unavailable() error {
	return fmt.Errorf("%w: connection refused", interfaces.ErrLedgerUnavailable)
}

func receipt(b byte) *interfaces.Receipt {
	return &interfaces.Receipt{TxHash: interfaces.TxHash{b}, Height: uint64(b)}
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("retries transport failures", func(t *testing.T) {
		c := New(&ledger.MockFederationLedger{}, domain1, testConfig("Domain1", interfaces.Endpoint{}), Collaborators{}, quietLogger())

		sends, checks := 0, 0
		r, err := c.submit(ctx, federation.OpAnnounce, func(context.Context) (*interfaces.Receipt, error) {
			sends++
			if sends < 3 {
				return nil, unavailable()
			}
			return receipt(1), nil
		}, func(context.Context) (bool, error) {
			checks++
			return false, nil
		})
		require.NoError(t, err)
		assert.Equal(t, receipt(1), r)
		assert.Equal(t, 3, sends)
		assert.Equal(t, 2, checks)
	})

	t.Run("rejections are final", func(t *testing.T) {
		c := New(&ledger.MockFederationLedger{}, domain1, testConfig("Domain1", interfaces.Endpoint{}), Collaborators{}, quietLogger())

		sends := 0
		_, err := c.submit(ctx, federation.OpAnnounce, func(context.Context) (*interfaces.Receipt, error) {
			sends++
			return nil, &interfaces.FederationError{Op: "announceService", Kind: interfaces.ErrDuplicateServiceID, ServiceID: "svc-1"}
		}, func(context.Context) (bool, error) {
			t.Fatal("state must not be checked after a rejection")
			return false, nil
		})
		assert.ErrorIs(t, err, interfaces.ErrDuplicateServiceID)
		assert.Equal(t, 1, sends)
	})

	t.Run("already applied is not resent", func(t *testing.T) {
		c := New(&ledger.MockFederationLedger{}, domain1, testConfig("Domain1", interfaces.Endpoint{}), Collaborators{}, quietLogger())

		sends := 0
		r, err := c.submit(ctx, federation.OpChooseProvider, func(context.Context) (*interfaces.Receipt, error) {
			sends++
			return nil, unavailable()
		}, func(context.Context) (bool, error) {
			return true, nil
		})
		require.NoError(t, err)
		assert.Nil(t, r)
		assert.Equal(t, 1, sends)
	})

	t.Run("gives up after the last attempt", func(t *testing.T) {
		c := New(&ledger.MockFederationLedger{}, domain1, testConfig("Domain1", interfaces.Endpoint{}), Collaborators{}, quietLogger())

		sends := 0
		_, err := c.submit(ctx, federation.OpMarkDeployed, func(context.Context) (*interfaces.Receipt, error) {
			sends++
			return nil, unavailable()
		}, func(context.Context) (bool, error) {
			return false, unavailable()
		})
		assert.ErrorIs(t, err, interfaces.ErrLedgerUnavailable)
		assert.Equal(t, 3, sends)
	})
}

func TestEnsureRegistered(t *testing.T) {
	ctx := context.Background()

	t.Run("already registered", func(t *testing.T) {
		m := &ledger.MockFederationLedger{}
		m.On("Lookup", mock.Anything, domain1).Return("Domain1", nil)

		c := New(m, domain1, testConfig("Domain1", interfaces.Endpoint{}), Collaborators{}, quietLogger())
		require.NoError(t, c.ensureRegistered(ctx))
		m.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("registers once", func(t *testing.T) {
		m := &ledger.MockFederationLedger{}
		notRegistered := &interfaces.FederationError{Op: "lookup", Kind: interfaces.ErrNotRegistered, Identity: domain1}
		m.On("Lookup", mock.Anything, domain1).Return("", notRegistered)
		m.On("Register", mock.Anything, domain1, "Domain1").Return(receipt(1), nil).Once()

		c := New(m, domain1, testConfig("Domain1", interfaces.Endpoint{}), Collaborators{}, quietLogger())
		require.NoError(t, c.ensureRegistered(ctx))
		m.AssertExpectations(t)
	})

	t.Run("resubmission finds the first attempt committed", func(t *testing.T) {
		m := &ledger.MockFederationLedger{}
		notRegistered := &interfaces.FederationError{Op: "lookup", Kind: interfaces.ErrNotRegistered, Identity: domain1}
		m.On("Lookup", mock.Anything, domain1).Return("", notRegistered).Once()
		m.On("Register", mock.Anything, domain1, "Domain1").Return(nil, unavailable()).Once()
		m.On("Lookup", mock.Anything, domain1).Return("Domain1", nil).Once()

		c := New(m, domain1, testConfig("Domain1", interfaces.Endpoint{}), Collaborators{}, quietLogger())
		require.NoError(t, c.ensureRegistered(ctx))
		m.AssertExpectations(t)
		m.AssertNumberOfCalls(t, "Register", 1)
	})
}

func TestAnnounceRetryDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	m := &ledger.MockFederationLedger{}
	endpoint := interfaces.Endpoint{TopologyRef: "consumer-net.yaml"}
	requirements := []byte("service=alpine;replicas=1")

	m.On("Lookup", mock.Anything, domain1).Return("Domain1", nil)
	m.On("AnnounceService", mock.Anything, domain1, interfaces.ServiceID("svc-1"), requirements, endpoint).Return(nil, unavailable()).Once()
	// the lost announcement was committed
	m.On("ServiceInfo", mock.Anything, domain1, interfaces.ServiceID("svc-1"), false).Return(&interfaces.ServiceInfo{ID: "svc-1", Creator: domain1}, nil)
	m.On("BidCount", mock.Anything, domain1, interfaces.ServiceID("svc-1")).Return(uint64(0), nil)

	cfg := testConfig("Domain1", endpoint)
	cfg.BidDeadline = 30 * time.Millisecond
	c := New(m, domain1, cfg, Collaborators{}, quietLogger())

	out, err := c.RunConsumer(ctx, ConsumerRequest{ServiceID: "svc-1", Requirements: Requirements{Service: "alpine", Replicas: 1}})
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, out.Status)
	m.AssertNumberOfCalls(t, "AnnounceService", 1)
}

func TestConsumerRejection(t *testing.T) {
	l := newLocalLedger(t)
	ctx := context.Background()

	_, err := l.Register(ctx, domain2, "Domain2")
	require.NoError(t, err)
	_, err = l.AnnounceService(ctx, domain2, "svc-1", []byte("service=alpine;replicas=1"), interfaces.Endpoint{})
	require.NoError(t, err)

	c := New(l, domain1, testConfig("Domain1", interfaces.Endpoint{}), Collaborators{}, quietLogger())
	out, err := c.RunConsumer(ctx, ConsumerRequest{ServiceID: "svc-1", Requirements: Requirements{Service: "alpine", Replicas: 1}})
	require.ErrorIs(t, err, interfaces.ErrDuplicateServiceID)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Error, "svc-1")
}

func TestConsumerTimeoutLeavesServiceOpen(t *testing.T) {
	l := newLocalLedger(t)
	ctx := context.Background()

	cfg := testConfig("Domain1", interfaces.Endpoint{})
	cfg.BidDeadline = 30 * time.Millisecond
	c := New(l, domain1, cfg, Collaborators{}, quietLogger())
	c.now = func() time.Time { return time.Unix(1712345678, 0) }

	out, err := c.RunConsumer(ctx, ConsumerRequest{Requirements: Requirements{Service: "alpine", Replicas: 1}})
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, out.Status)
	assert.Equal(t, interfaces.ServiceID("service1712345678"), out.ServiceID)
	assert.Contains(t, out.Error, "bids")

	state, err := l.ServiceState(ctx, domain1, out.ServiceID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateOpen, state)
}

func TestProviderTimeout(t *testing.T) {
	l := newLocalLedger(t)

	cfg := testConfig("Domain2", interfaces.Endpoint{})
	cfg.AnnounceDeadline = 30 * time.Millisecond
	c := New(l, domain2, cfg, Collaborators{Deployer: &orchestrator.MockDeployer{}}, quietLogger())

	out, err := c.RunProvider(context.Background(), ProviderRequest{Price: 5})
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, out.Status)
	assert.Empty(t, out.ServiceID)
}

// ctxArchive refuses writes on a done context, like the network backends do.
type ctxArchive struct {
	*storage.FileBackend
}

func (a ctxArchive) Store(ctx context.Context, data []byte, recordType interfaces.RecordType) (interfaces.ContentID, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.ContentID{}, err
	}
	return a.FileBackend.Store(ctx, data, recordType)
}

func TestCancelledRunIsArchived(t *testing.T) {
	files, err := storage.NewFileBackend(t.TempDir(), quietLogger())
	require.NoError(t, err)
	archive := ctxArchive{files}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(newLocalLedger(t), domain2, testConfig("Domain2", interfaces.Endpoint{}), Collaborators{Deployer: &orchestrator.MockDeployer{}, Archive: archive}, quietLogger())
	out, err := c.RunProvider(ctx, ProviderRequest{Price: 5})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, out.Status)

	require.NotNil(t, out.ArchiveID, "outcome of a cancelled run is archived")
	archived, err := files.Fetch(context.Background(), *out.ArchiveID, interfaces.OutcomeRecord)
	require.NoError(t, err)
	assert.Contains(t, string(archived), `"status":"failed"`)
}

func TestProviderSkipsClosedAndFilteredAnnouncements(t *testing.T) {
	l := newLocalLedger(t)
	ctx := context.Background()

	for id, name := range map[interfaces.Identity]string{domain1: "Domain1", domain2: "Domain2", domain3: "Domain3"} {
		_, err := l.Register(ctx, id, name)
		require.NoError(t, err)
	}
	_, err := l.AnnounceService(ctx, domain1, "closed", []byte("service=alpine;replicas=1"), interfaces.Endpoint{})
	require.NoError(t, err)
	_, _, err = l.PlaceBid(ctx, domain3, "closed", 1, interfaces.Endpoint{})
	require.NoError(t, err)
	_, err = l.ChooseProvider(ctx, domain1, "closed", 0)
	require.NoError(t, err)
	_, err = l.AnnounceService(ctx, domain1, "open", []byte("service=alpine;replicas=1"), interfaces.Endpoint{})
	require.NoError(t, err)
	_, err = l.AnnounceService(ctx, domain1, "too-big", []byte("service=alpine;replicas=9"), interfaces.Endpoint{})
	require.NoError(t, err)

	c := New(l, domain2, testConfig("Domain2", interfaces.Endpoint{}), Collaborators{Deployer: &orchestrator.MockDeployer{}}, quietLogger())
	found, cursor, err := c.scanAnnouncements(ctx, 0, AnnouncementFilter{MaxReplicas: 2})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, interfaces.ServiceID("open"), found.id)
	assert.Equal(t, domain1, found.creator)
	assert.Equal(t, Requirements{Service: "alpine", Replicas: 1}, found.requirements)

	events, err := l.Events(ctx, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, events[len(events)-1].Cursor, cursor)

	// nothing new after the cursor
	found, _, err = c.scanAnnouncements(ctx, cursor, AnnouncementFilter{})
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestFederationEndToEnd(t *testing.T) {
	l := newLocalLedger(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	archiveDir := t.TempDir()
	archive, err := storage.NewFileBackend(archiveDir, quietLogger())
	require.NoError(t, err)
	exportDir := t.TempDir()

	consumerEndpoint := interfaces.Endpoint{CatalogRef: "None", TopologyRef: "consumer-net.yaml", DescriptorID: "None", NamespaceID: "None"}
	cheapEndpoint := interfaces.Endpoint{CatalogRef: "None", TopologyRef: "provider-net.yaml", DescriptorID: "None", NamespaceID: "None"}
	pricyEndpoint := interfaces.Endpoint{CatalogRef: "None", TopologyRef: "other-net.yaml", DescriptorID: "None", NamespaceID: "None"}
	refinedEndpoint := cheapEndpoint
	refinedEndpoint.NamespaceID = "federated-service-123"

	connector := &orchestrator.MockConnector{}
	connector.On("Connect", mock.Anything, consumerEndpoint, refinedEndpoint).Return(nil).Once()

	cheapDeployer := &orchestrator.MockDeployer{}
	cheapDeployer.On("Deploy", mock.Anything, interfaces.DeploymentRequest{
		ServiceID:        "svc-1",
		Service:          "alpine",
		Replicas:         1,
		ConsumerEndpoint: consumerEndpoint,
	}).Return(&interfaces.Deployment{Address: "10.0.0.10", Endpoint: &refinedEndpoint}, nil).Once()
	pricyDeployer := &orchestrator.MockDeployer{}

	consumerCfg := testConfig("Domain1", consumerEndpoint)
	consumerCfg.ExportDir = exportDir
	consumer := New(l, domain1, consumerCfg, Collaborators{Connector: connector, Archive: archive}, quietLogger())

	cheapCfg := testConfig("Domain2", cheapEndpoint)
	cheapCfg.ExportDir = exportDir
	cheap := New(l, domain2, cheapCfg, Collaborators{Deployer: cheapDeployer, Archive: archive}, quietLogger())
	pricy := New(l, domain3, testConfig("Domain3", pricyEndpoint), Collaborators{Deployer: pricyDeployer}, quietLogger())

	var wg sync.WaitGroup
	var cheapOut, pricyOut *Outcome
	var cheapErr, pricyErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		cheapOut, cheapErr = cheap.RunProvider(ctx, ProviderRequest{Price: 5})
	}()
	go func() {
		defer wg.Done()
		pricyOut, pricyErr = pricy.RunProvider(ctx, ProviderRequest{Price: 7})
	}()

	consumerOut, err := consumer.RunConsumer(ctx, ConsumerRequest{
		ServiceID:    "svc-1",
		Requirements: Requirements{Service: "alpine", Replicas: 1},
		TargetBids:   2,
	})
	wg.Wait()

	require.NoError(t, err)
	require.NoError(t, cheapErr)
	require.NoError(t, pricyErr)

	assert.Equal(t, StatusDeployed, consumerOut.Status)
	assert.Equal(t, uint64(5), consumerOut.Price)
	require.NotNil(t, consumerOut.Counterpart)
	assert.Equal(t, domain2, *consumerOut.Counterpart)
	assert.Equal(t, "10.0.0.10", consumerOut.Address)
	assert.Equal(t, &refinedEndpoint, consumerOut.CounterpartEndpoint)

	assert.Equal(t, StatusDeployed, cheapOut.Status)
	assert.Equal(t, "10.0.0.10", cheapOut.Address)
	assert.Equal(t, consumerOut.BidIndex, cheapOut.BidIndex)
	assert.Equal(t, StatusNotChosen, pricyOut.Status)

	connector.AssertExpectations(t)
	cheapDeployer.AssertExpectations(t)
	pricyDeployer.AssertNotCalled(t, "Deploy", mock.Anything, mock.Anything)

	state, err := l.ServiceState(ctx, domain1, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateDeployed, state)

	var names []string
	for _, s := range consumerOut.Steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		StepServiceAnnounced,
		StepBidOfferReceived,
		StepWinnerChosen,
		StepConfirmDeploymentReceived,
		StepConnectStart,
		StepConnectFinished,
	}, names)

	require.NotNil(t, consumerOut.ArchiveID)
	archived, err := archive.Fetch(ctx, *consumerOut.ArchiveID, interfaces.OutcomeRecord)
	require.NoError(t, err)
	assert.Contains(t, string(archived), `"status":"deployed"`)
	require.NotNil(t, cheapOut.ArchiveID)

	_, err = os.Stat(filepath.Join(exportDir, "consumer", "federation_events_consumer_test_1.csv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(exportDir, "provider", "federation_events_provider_test_1.csv"))
	assert.NoError(t, err)
}

func TestProviderDeploymentFailure(t *testing.T) {
	l := newLocalLedger(t)
	ctx := context.Background()

	_, err := l.Register(ctx, domain1, "Domain1")
	require.NoError(t, err)
	_, err = l.AnnounceService(ctx, domain1, "svc-1", []byte("service=alpine;replicas=1"), interfaces.Endpoint{})
	require.NoError(t, err)

	deployer := &orchestrator.MockDeployer{}
	deployer.On("Deploy", mock.Anything, mock.Anything).Return(nil, errors.New("no capacity"))

	provider := New(l, domain2, testConfig("Domain2", interfaces.Endpoint{}), Collaborators{Deployer: deployer}, quietLogger())

	done := make(chan struct{})
	var out *Outcome
	go func() {
		defer close(done)
		out, err = provider.RunProvider(ctx, ProviderRequest{Price: 3})
	}()

	require.Eventually(t, func() bool {
		n, err := l.BidCount(ctx, domain1, "svc-1")
		return err == nil && n == 1
	}, 5*time.Second, 5*time.Millisecond)
	_, chooseErr := l.ChooseProvider(ctx, domain1, "svc-1", 0)
	require.NoError(t, chooseErr)
	<-done

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capacity")
	assert.Equal(t, StatusFailed, out.Status)

	// the service stays Closed; nothing is rolled back
	state, stateErr := l.ServiceState(ctx, domain1, "svc-1")
	require.NoError(t, stateErr)
	assert.Equal(t, interfaces.StateClosed, state)
}
