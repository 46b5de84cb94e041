package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ruteri/dlt-service-federation/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const consumerTopology = `network_info:
  protocol: vxlan
  vxlan_id: 200
  udp_port: 4789
  consumer_tunnel_endpoint: 10.5.15.16
  provider_tunnel_endpoint: 10.5.99.6
  consumer_subnet: 10.10.0.0/16
  consumer_router_endpoint: 10.10.0.1
`

const providerTopology = `network_info:
  protocol: vxlan
  vxlan_id: 200
  udp_port: 4789
  consumer_tunnel_endpoint: 10.5.15.16
  provider_tunnel_endpoint: 10.5.99.6
  provider_subnet: 10.20.0.0/16
  provider_router_endpoint: 10.20.0.1
`

const serviceCatalog = `descriptors:
  - id: ros-talker
    name: ROS talker
    image: ros:humble
    replicas: 2
    command: ros2 run demo_nodes_cpp talker
  - id: nginx
    image: nginx:latest
`

type fakeOrchestrator struct {
	mu       sync.Mutex
	routers  []RouterConfig
	removals []VXLANRemoval
	deploys  []DeployServiceRequest
}

func (f *fakeOrchestrator) handler() http.Handler {
	docs := map[string]string{
		"/topology/consumer-net.yaml": consumerTopology,
		"/topology/provider-net.yaml": providerTopology,
		"/topology/broken.yaml":       "network_info: [",
		"/topology/empty.yaml":        "other: 1\n",
		"/catalog/catalog.yaml":       serviceCatalog,
	}

	mux := http.NewServeMux()
	for path, doc := range docs {
		mux.HandleFunc("GET "+path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/x-yaml")
			_, _ = io.WriteString(w, doc)
		})
	}

	mux.HandleFunc("POST /configure_router", func(w http.ResponseWriter, r *http.Request) {
		var cfg RouterConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil || cfg.VNI == 0 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error": "Missing required parameter: vni"}`)
			return
		}
		f.mu.Lock()
		f.routers = append(f.routers, cfg)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"message": "Router configured successfully", "output": ""}`)
	})

	mux.HandleFunc("POST /remove_vxlan", func(w http.ResponseWriter, r *http.Request) {
		var removal VXLANRemoval
		_ = json.NewDecoder(r.Body).Decode(&removal)
		f.mu.Lock()
		f.removals = append(f.removals, removal)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"message": "VXLAN tunnel removed successfully", "output": ""}`)
	})

	mux.HandleFunc("POST /deploy_service", func(w http.ResponseWriter, r *http.Request) {
		var req DeployServiceRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.deploys = append(f.deploys, req)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"federated_host": "10.10.3.2", "namespace_id": "federated-service-123"}`)
	})

	return mux
}

func newTestClient(t *testing.T, cfg Config) (*Client, *fakeOrchestrator, *httptest.Server) {
	t.Helper()
	fake := &fakeOrchestrator{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL + "/"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(cfg, logger), fake, srv
}

func TestTopology(t *testing.T) {
	client, _, srv := newTestClient(t, Config{})
	ctx := context.Background()

	info, err := client.Topology(ctx, "consumer-net.yaml")
	require.NoError(t, err)
	assert.Equal(t, "vxlan", info.Protocol)
	assert.Equal(t, uint32(200), info.VXLANID)
	assert.Equal(t, Site{TunnelEndpoint: "10.5.15.16", Subnet: "10.10.0.0/16", RouterEndpoint: "10.10.0.1"}, info.Site(false))

	info, err = client.Topology(ctx, srv.URL+"/topology/provider-net.yaml")
	require.NoError(t, err)
	assert.Equal(t, Site{TunnelEndpoint: "10.5.99.6", Subnet: "10.20.0.0/16", RouterEndpoint: "10.20.0.1"}, info.Site(true))

	info, err = client.Topology(ctx, "ip_address=10.5.15.16;vxlan_id=300;vxlan_port=4789;federation_net=10.30.0.0/16")
	require.NoError(t, err)
	assert.Equal(t, uint32(300), info.VXLANID)

	tests := []struct {
		ref     string
		wantErr error
	}{
		{ref: "", wantErr: ErrNoTopology},
		{ref: "None", wantErr: ErrNoTopology},
		{ref: "missing.yaml", wantErr: ErrDescriptorNotFound},
		{ref: "consumer-net.json", wantErr: ErrInvalidDescriptor},
		{ref: "broken.yaml", wantErr: ErrInvalidDescriptor},
		{ref: "empty.yaml", wantErr: ErrInvalidDescriptor},
	}
	for _, tt := range tests {
		_, err := client.Topology(ctx, tt.ref)
		assert.ErrorIs(t, err, tt.wantErr, tt.ref)
	}
}

func TestCatalog(t *testing.T) {
	client, _, _ := newTestClient(t, Config{})

	catalog, err := client.Catalog(context.Background(), "catalog.yaml")
	require.NoError(t, err)
	require.Len(t, catalog.Descriptors, 2)

	d, ok := catalog.Lookup("ros-talker")
	require.True(t, ok)
	assert.Equal(t, "ros:humble", d.Image)
	assert.Equal(t, 2, d.Replicas)

	_, ok = catalog.Lookup("unknown")
	assert.False(t, ok)

	_, err = ParseCatalog([]byte("descriptors:\n  - id: no-image\n"))
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestConnect(t *testing.T) {
	consumer := interfaces.Endpoint{TopologyRef: "consumer-net.yaml"}
	provider := interfaces.Endpoint{TopologyRef: "provider-net.yaml"}

	t.Run("consumer side", func(t *testing.T) {
		client, fake, _ := newTestClient(t, Config{Interface: "ens3"})

		require.NoError(t, client.Connect(context.Background(), consumer, provider))
		require.Len(t, fake.routers, 1)
		assert.Equal(t, RouterConfig{
			LocalIP:            "10.5.15.16",
			RemoteIP:           "10.5.99.6",
			Interface:          "ens3",
			VNI:                200,
			DstPort:            4789,
			DestinationNetwork: "10.20.0.0/16",
			TunnelIP:           "10.10.0.1",
			GatewayIP:          "10.20.0.1",
		}, fake.routers[0])
	})

	t.Run("provider side", func(t *testing.T) {
		client, fake, _ := newTestClient(t, Config{Provider: true})

		require.NoError(t, client.Connect(context.Background(), provider, consumer))
		require.Len(t, fake.routers, 1)
		assert.Equal(t, "eth0", fake.routers[0].Interface)
		assert.Equal(t, "10.5.99.6", fake.routers[0].LocalIP)
		assert.Equal(t, "10.10.0.0/16", fake.routers[0].DestinationNetwork)
		assert.Equal(t, "10.10.0.1", fake.routers[0].GatewayIP)

		require.NoError(t, client.Disconnect(context.Background(), provider, consumer))
		require.Len(t, fake.removals, 1)
		assert.Equal(t, VXLANRemoval{VNI: 200, DestinationNetwork: "10.10.0.0/16"}, fake.removals[0])
	})

	t.Run("missing topology", func(t *testing.T) {
		client, fake, _ := newTestClient(t, Config{})

		err := client.Connect(context.Background(), consumer, interfaces.Endpoint{TopologyRef: "None"})
		assert.ErrorIs(t, err, ErrNoTopology)
		assert.Empty(t, fake.routers)
	})

	t.Run("remote publishes no subnet", func(t *testing.T) {
		client, _, _ := newTestClient(t, Config{})

		// consumer-net.yaml only carries the consumer side
		err := client.Connect(context.Background(), consumer, consumer)
		assert.ErrorIs(t, err, ErrInvalidDescriptor)
	})
}

func TestConfigureRouterRejected(t *testing.T) {
	client, _, _ := newTestClient(t, Config{})

	err := client.ConfigureRouter(context.Background(), RouterConfig{LocalIP: "10.0.0.1"})
	require.ErrorIs(t, err, ErrOrchestrator)
	assert.Contains(t, err.Error(), "Missing required parameter: vni")
}

func TestDeploy(t *testing.T) {
	own := interfaces.Endpoint{
		CatalogRef:   "None",
		TopologyRef:  "provider-net.yaml",
		DescriptorID: "None",
		NamespaceID:  "None",
	}

	t.Run("catalog entry on consumer subnet", func(t *testing.T) {
		client, fake, _ := newTestClient(t, Config{Provider: true, SubnetID: 3, Endpoint: own})

		deployment, err := client.Deploy(context.Background(), interfaces.DeploymentRequest{
			ServiceID: "service1712345678",
			Service:   "alpine",
			Replicas:  1,
			ConsumerEndpoint: interfaces.Endpoint{
				CatalogRef:   "catalog.yaml",
				TopologyRef:  "consumer-net.yaml",
				DescriptorID: "ros-talker",
				NamespaceID:  "None",
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "10.10.3.2", deployment.Address)
		require.NotNil(t, deployment.Endpoint)
		assert.Equal(t, "federated-service-123", deployment.Endpoint.NamespaceID)
		assert.Equal(t, own.TopologyRef, deployment.Endpoint.TopologyRef)

		require.Len(t, fake.deploys, 1)
		assert.Equal(t, DeployServiceRequest{
			ServiceID: "service1712345678",
			Image:     "ros:humble",
			Replicas:  2,
			Command:   "ros2 run demo_nodes_cpp talker",
			Subnet:    "10.10.3.0/24",
			IPRange:   "10.10.3.1-10.10.3.254",
		}, fake.deploys[0])
	})

	t.Run("requirements only", func(t *testing.T) {
		client, fake, _ := newTestClient(t, Config{Provider: true})

		deployment, err := client.Deploy(context.Background(), interfaces.DeploymentRequest{
			ServiceID:        "svc",
			Service:          "nginx",
			ConsumerEndpoint: interfaces.Endpoint{CatalogRef: "None", TopologyRef: "None", DescriptorID: "None", NamespaceID: "None"},
		})
		require.NoError(t, err)
		assert.Nil(t, deployment.Endpoint)

		require.Len(t, fake.deploys, 1)
		assert.Equal(t, "nginx", fake.deploys[0].Image)
		assert.Equal(t, 1, fake.deploys[0].Replicas)
		assert.Empty(t, fake.deploys[0].Subnet)
	})

	t.Run("unknown descriptor", func(t *testing.T) {
		client, fake, _ := newTestClient(t, Config{Provider: true})

		_, err := client.Deploy(context.Background(), interfaces.DeploymentRequest{
			ServiceID:        "svc",
			ConsumerEndpoint: interfaces.Endpoint{CatalogRef: "catalog.yaml", DescriptorID: "missing"},
		})
		assert.ErrorIs(t, err, ErrDescriptorNotFound)
		assert.Empty(t, fake.deploys)
	})

	t.Run("nothing to deploy", func(t *testing.T) {
		client, _, _ := newTestClient(t, Config{Provider: true})

		_, err := client.Deploy(context.Background(), interfaces.DeploymentRequest{ServiceID: "svc"})
		assert.ErrorIs(t, err, ErrInvalidDescriptor)
	})
}
