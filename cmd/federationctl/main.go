package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ruteri/dlt-service-federation/cmd/flags"
	"github.com/ruteri/dlt-service-federation/interfaces"
	"github.com/ruteri/dlt-service-federation/orchestrator"
	"github.com/urfave/cli/v2"
)

var flagCaller = &cli.StringFlag{
	Name:    "caller",
	Usage:   "identity to query as when no key is given. 40-char hex address",
	EnvVars: []string{"FEDERATION_CALLER"},
}
var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: 60 * time.Second,
	Usage: "overall deadline of the command",
}

var flagName = &cli.StringFlag{
	Name:     "name",
	Required: true,
	Usage:    "operator name to register",
}
var flagServiceID = &cli.StringFlag{
	Name:     "id",
	Required: true,
	Usage:    "service id",
}
var flagRequirements = &cli.StringFlag{
	Name:  "requirements",
	Value: "service=alpine;replicas=1",
	Usage: "requirements payload of the announcement",
}
var flagPrice = &cli.Uint64Flag{
	Name:     "price",
	Required: true,
	Usage:    "bid price",
}
var flagIndex = &cli.Uint64Flag{
	Name:     "index",
	Required: true,
	Usage:    "0-based bid index",
}
var flagAsProvider = &cli.BoolFlag{
	Name:  "provider",
	Usage: "act on the provider side of the service",
}
var flagInfo = &cli.StringFlag{
	Name:     "info",
	Required: true,
	Usage:    "deployment info to record, usually the federated host address",
}
var flagCandidate = &cli.StringFlag{
	Name:     "candidate",
	Required: true,
	Usage:    "identity to check. 40-char hex address",
}
var flagAfter = &cli.Uint64Flag{
	Name:  "after",
	Value: 0,
	Usage: "return events after this cursor",
}
var flagLimit = &cli.IntFlag{
	Name:  "limit",
	Value: 100,
	Usage: "maximum number of events",
}
var flagTxHash = &cli.StringFlag{
	Name:     "tx",
	Required: true,
	Usage:    "transaction hash",
}

var endpointFlags = []cli.Flag{
	&cli.StringFlag{Name: "catalog", Value: "None", Usage: "endpoint catalog reference"},
	&cli.StringFlag{Name: "topology", Value: "None", Usage: "endpoint topology reference"},
	&cli.StringFlag{Name: "descriptor", Value: "None", Usage: "endpoint descriptor id"},
	&cli.StringFlag{Name: "namespace", Value: "None", Usage: "endpoint namespace id"},
}

var orchestratorFlags = []cli.Flag{
	&cli.StringFlag{Name: "orchestrator-url", Value: "http://localhost:9999", Usage: "domain orchestrator address", EnvVars: []string{"FEDERATION_ORCHESTRATOR_URL"}},
	&cli.StringFlag{Name: "interface", Value: "eth0", Usage: "router interface of the tunnel"},
	&cli.StringFlag{Name: "remote-topology", Required: true, Usage: "topology reference of the peer domain"},
}

func endpointFrom(cCtx *cli.Context) interfaces.Endpoint {
	return interfaces.Endpoint{
		CatalogRef:   cCtx.String("catalog"),
		TopologyRef:  cCtx.String("topology"),
		DescriptorID: cCtx.String("descriptor"),
		NamespaceID:  cCtx.String("namespace"),
	}
}

const usage string = `Send single federation transactions and queries to the ledger.

Mutating commands need the domain key (--key or --key-file). Queries are
answered for the key's identity, or for --caller when no key is given.`

func main() {
	app := &cli.App{
		Name:  "federationctl",
		Usage: usage,
		Flags: append(append([]cli.Flag{
			flagCaller,
			flagTimeout,
			flags.LogServiceFlagFn("federationctl"),
		}, flags.LogFlags...), flags.LedgerFlags...),
		Commands: []*cli.Command{
			{
				Name:  "register",
				Usage: "register the domain as an operator",
				Flags: []cli.Flag{flagName},
				Action: withClient(true, func(ctx context.Context, c *Client, cCtx *cli.Context) (any, error) {
					return c.Ledger.Register(ctx, c.Identity, cCtx.String(flagName.Name))
				}),
			},
			{
				Name:  "unregister",
				Usage: "remove the domain's operator record",
				Action: withClient(true, func(ctx context.Context, c *Client, cCtx *cli.Context) (any, error) {
					return c.Ledger.Unregister(ctx, c.Identity)
				}),
			},
			{
				Name:  "announce",
				Usage: "announce a service",
				Flags: append([]cli.Flag{flagServiceID, flagRequirements}, endpointFlags...),
				Action: withClient(true, func(ctx context.Context, c *Client, cCtx *cli.Context) (any, error) {
					return c.Ledger.AnnounceService(ctx, c.Identity, serviceID(cCtx), []byte(cCtx.String(flagRequirements.Name)), endpointFrom(cCtx))
				}),
			},
			{
				Name:  "bid",
				Usage: "place a bid on an open service",
				Flags: append([]cli.Flag{flagServiceID, flagPrice}, endpointFlags...),
				Action: withClient(true, func(ctx context.Context, c *Client, cCtx *cli.Context) (any, error) {
					index, receipt, err := c.Ledger.PlaceBid(ctx, c.Identity, serviceID(cCtx), cCtx.Uint64(flagPrice.Name), endpointFrom(cCtx))
					if err != nil {
						return nil, err
					}
					return map[string]any{"bid_index": index, "receipt": receipt}, nil
				}),
			},
			{
				Name:  "choose",
				Usage: "choose the winning bid of an announced service",
				Flags: []cli.Flag{flagServiceID, flagIndex},
				Action: withClient(true, func(ctx context.Context, c *Client, cCtx *cli.Context) (any, error) {
					return c.Ledger.ChooseProvider(ctx, c.Identity, serviceID(cCtx), cCtx.Uint64(flagIndex.Name))
				}),
			},
			{
				Name:  "update-endpoint",
				Usage: "replace the consumer endpoint, or the provider endpoint with --provider",
				Flags: append([]cli.Flag{flagServiceID, flagAsProvider}, endpointFlags...),
				Action: withClient(true, func(ctx context.Context, c *Client, cCtx *cli.Context) (any, error) {
					return c.Ledger.UpdateEndpoint(ctx, c.Identity, serviceID(cCtx), cCtx.Bool(flagAsProvider.Name), endpointFrom(cCtx))
				}),
			},
			{
				Name:  "deployed",
				Usage: "confirm the deployment of a service as its provider",
				Flags: []cli.Flag{flagServiceID, flagInfo},
				Action: withClient(true, func(ctx context.Context, c *Client, cCtx *cli.Context) (any, error) {
					return c.Ledger.MarkDeployed(ctx, c.Identity, serviceID(cCtx), []byte(cCtx.String(flagInfo.Name)))
				}),
			},
			{
				Name:  "state",
				Usage: "show the state of a service",
				Flags: []cli.Flag{flagServiceID},
				Action: withClient(false, func(ctx context.Context, c *Client, cCtx *cli.Context) (any, error) {
					state, err := c.Ledger.ServiceState(ctx, c.Identity, serviceID(cCtx))
					if err != nil {
						return nil, err
					}
					return map[string]any{"state": state}, nil
				}),
			},
			{
				Name:  "info",
				Usage: "show the creator view of a service, or the provider view with --provider",
				Flags: []cli.Flag{flagServiceID, flagAsProvider},
				Action: withClient(false, func(ctx context.Context, c *Client, cCtx *cli.Context) (any, error) {
					info, err := c.Ledger.ServiceInfo(ctx, c.Identity, serviceID(cCtx), cCtx.Bool(flagAsProvider.Name))
					if err != nil {
						return nil, err
					}
					return struct {
						*interfaces.ServiceInfo
						Requirements string `json:"requirements"`
					}{info, string(info.Requirements)}, nil
				}),
			},
			{
				Name:  "bids",
				Usage: "list the bids of a service you created",
				Flags: []cli.Flag{flagServiceID},
				Action: withClient(false, func(ctx context.Context, c *Client, cCtx *cli.Context) (any, error) {
					return c.Bids(ctx, serviceID(cCtx))
				}),
			},
			{
				Name:  "winner",
				Usage: "check whether a candidate won a service",
				Flags: []cli.Flag{flagServiceID, flagCandidate},
				Action: withClient(false, func(ctx context.Context, c *Client, cCtx *cli.Context) (any, error) {
					candidate, err := interfaces.NewIdentityFromHex(cCtx.String(flagCandidate.Name))
					if err != nil {
						return nil, fmt.Errorf("could not parse candidate: %w", err)
					}
					won, err := c.Ledger.IsWinner(ctx, c.Identity, serviceID(cCtx), candidate)
					if err != nil {
						return nil, err
					}
					return map[string]any{"winner": won}, nil
				}),
			},
			{
				Name:  "events",
				Usage: "list events of the ledger log",
				Flags: []cli.Flag{flagAfter, flagLimit},
				Action: withClient(false, func(ctx context.Context, c *Client, cCtx *cli.Context) (any, error) {
					return c.Ledger.Events(ctx, cCtx.Uint64(flagAfter.Name), cCtx.Int(flagLimit.Name))
				}),
			},
			{
				Name:  "receipt",
				Usage: "look up a committed transaction",
				Flags: []cli.Flag{flagTxHash},
				Action: withClient(false, func(ctx context.Context, c *Client, cCtx *cli.Context) (any, error) {
					var hash interfaces.TxHash
					if err := hash.UnmarshalText([]byte(cCtx.String(flagTxHash.Name))); err != nil {
						return nil, fmt.Errorf("could not parse transaction hash: %w", err)
					}
					return c.Ledger.Receipt(ctx, hash)
				}),
			},
			{
				Name:  "height",
				Usage: "show the latest committed height",
				Action: withClient(false, func(ctx context.Context, c *Client, cCtx *cli.Context) (any, error) {
					height, err := c.Ledger.Height(ctx)
					if err != nil {
						return nil, err
					}
					return map[string]any{"height": height}, nil
				}),
			},
			{
				Name:  "disconnect",
				Usage: "tear down the VXLAN tunnel towards a peer domain through the local orchestrator",
				Flags: append(append([]cli.Flag{flagAsProvider}, orchestratorFlags...), endpointFlags...),
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					ctx, cancel := context.WithTimeout(context.Background(), cCtx.Duration(flagTimeout.Name))
					defer cancel()

					local := endpointFrom(cCtx)
					client := orchestrator.NewClient(orchestrator.Config{
						BaseURL:   cCtx.String("orchestrator-url"),
						Interface: cCtx.String("interface"),
						Provider:  cCtx.Bool(flagAsProvider.Name),
						Endpoint:  local,
					}, logger)
					remote := interfaces.Endpoint{TopologyRef: cCtx.String("remote-topology")}
					if err := client.Disconnect(ctx, local, remote); err != nil {
						return fmt.Errorf("disconnect failed: %w", err)
					}
					fmt.Println(`{"disconnected":true}`)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serviceID(cCtx *cli.Context) interfaces.ServiceID {
	return interfaces.ServiceID(cCtx.String(flagServiceID.Name))
}

type Client struct {
	Ledger   interfaces.FederationLedger
	Identity interfaces.Identity
}

// NewClient connects to the ledger. Without a key the identity is taken from
// --caller, which is enough for queries.
func NewClient(cCtx *cli.Context, needsKey bool) (*Client, error) {
	logger := flags.SetupLogger(cCtx)

	key, err := flags.PrivateKey(cCtx)
	if err != nil && (needsKey || cCtx.String(flagCaller.Name) == "") {
		return nil, err
	}

	ledger, identity, err := flags.Ledger(cCtx, logger, key)
	if err != nil {
		return nil, err
	}
	if key == nil {
		identity, err = interfaces.NewIdentityFromHex(cCtx.String(flagCaller.Name))
		if err != nil {
			return nil, fmt.Errorf("could not parse caller: %w", err)
		}
	}
	return &Client{Ledger: ledger, Identity: identity}, nil
}

func withClient(needsKey bool, fn func(ctx context.Context, c *Client, cCtx *cli.Context) (any, error)) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		c, err := NewClient(cCtx, needsKey)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), cCtx.Duration(flagTimeout.Name))
		defer cancel()

		result, err := fn(ctx, c, cCtx)
		if err != nil {
			var fedErr *interfaces.FederationError
			if errors.As(err, &fedErr) {
				return fmt.Errorf("%s rejected: %w", cCtx.Command.Name, err)
			}
			return fmt.Errorf("%s failed: %w", cCtx.Command.Name, err)
		}
		encoded, _ := json.Marshal(result)
		fmt.Println(string(encoded))
		return nil
	}
}

type indexedBid struct {
	Index uint64 `json:"index"`
	interfaces.Bid
}

// Bids fetches every bid of a service.
func (c *Client) Bids(ctx context.Context, id interfaces.ServiceID) ([]indexedBid, error) {
	count, err := c.Ledger.BidCount(ctx, c.Identity, id)
	if err != nil {
		return nil, err
	}
	bids := make([]indexedBid, 0, count)
	for i := uint64(0); i < count; i++ {
		bid, err := c.Ledger.Bid(ctx, c.Identity, id, i)
		if err != nil {
			return nil, fmt.Errorf("bid %d: %w", i, err)
		}
		bids = append(bids, indexedBid{Index: i, Bid: *bid})
	}
	return bids, nil
}
