// Package orchestrator is the client side of a domain orchestrator: the
// service that owns the local router and container runtime.
//
// Client implements interfaces.Deployer and interfaces.Connector. Endpoints
// exchanged over the ledger reference the orchestrator's YAML documents:
//
//   - CatalogRef and DescriptorID select a catalog entry to deploy
//   - TopologyRef names a topology document with a network_info section
//
// References are either absolute URLs or paths relative to the orchestrator
// (GET /catalog/<ref>, GET /topology/<ref>). A topology ref may instead be an
// inline overlay descriptor:
//
//	ip_address=10.0.0.1;vxlan_id=200;vxlan_port=4789;federation_net=10.0.0.0/16
//
// Connect posts /configure_router with the tunnel parameters derived from the
// local and remote topologies; Disconnect posts /remove_vxlan. Deploy posts
// /deploy_service and attaches the workload to the /24 of the consumer
// network selected by Config.SubnetID.
package orchestrator
