package flags

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/ruteri/dlt-service-federation/api/clients"
	fedcommon "github.com/ruteri/dlt-service-federation/common"
	"github.com/ruteri/dlt-service-federation/contract"
	"github.com/ruteri/dlt-service-federation/httpserver"
	"github.com/ruteri/dlt-service-federation/interfaces"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := fedcommon.SetupLogger(&fedcommon.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: fedcommon.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// PrivateKey reads the signing key from --key or --key-file.
func PrivateKey(cCtx *cli.Context) (*ecdsa.PrivateKey, error) {
	raw := cCtx.String(KeyFlag.Name)
	if path := cCtx.String(KeyFileFlag.Name); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read key file: %w", err)
		}
		raw = string(data)
	}
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, errors.New("a signing key is required (--key or --key-file)")
	}

	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("could not parse signing key: %w", err)
	}
	return key, nil
}

// Ledger connects to the federation ledger the flags point at: the Federation
// contract when --contract is set, the ledger node at --ledger-url otherwise.
// The key, when given, is registered as a signer and its identity returned.
func Ledger(cCtx *cli.Context, log *slog.Logger, key *ecdsa.PrivateKey) (interfaces.FederationLedger, interfaces.Identity, error) {
	var identity interfaces.Identity
	if key != nil {
		identity = interfaces.Identity(crypto.PubkeyToAddress(key.PublicKey))
	}

	contractAddr := cCtx.String(ContractAddrFlag.Name)
	if contractAddr == "" {
		ledgerURL := cCtx.String(LedgerURLFlag.Name)
		log.Info("Using ledger node", "url", ledgerURL)
		var keys []*ecdsa.PrivateKey
		if key != nil {
			keys = append(keys, key)
		}
		timeout := time.Duration(cCtx.Int64(LedgerTimeoutFlag.Name)) * time.Second
		return clients.NewLedgerClient(ledgerURL, timeout, keys...), identity, nil
	}

	if !common.IsHexAddress(contractAddr) {
		return nil, identity, fmt.Errorf("invalid contract address %q", contractAddr)
	}

	rpcAddress := cCtx.String(RpcAddrFlag.Name)
	log.Info("Connecting to Ethereum RPC", "address", rpcAddress, "contract", contractAddr)
	ethClient, err := ethclient.Dial(rpcAddress)
	if err != nil {
		return nil, identity, fmt.Errorf("failed to dial RPC: %w", err)
	}

	client := contract.NewClient(ethClient, common.HexToAddress(contractAddr), log)
	if key != nil {
		chainID := big.NewInt(cCtx.Int64(ChainIDFlag.Name))
		if _, err := client.AddSigner(key, chainID); err != nil {
			return nil, identity, fmt.Errorf("could not create transactor: %w", err)
		}
	}
	return client, identity, nil
}

var RpcAddrFlag = &cli.StringFlag{
	Name:    "rpc-addr",
	Value:   "http://127.0.0.1:8545",
	Usage:   "address to connect to RPC",
	EnvVars: []string{"FEDERATION_RPC_ADDR"},
}

var ContractAddrFlag = &cli.StringFlag{
	Name:    "contract",
	Usage:   "Federation contract address. When set the ledger is reached over --rpc-addr instead of --ledger-url",
	EnvVars: []string{"FEDERATION_CONTRACT_ADDRESS"},
}

var ChainIDFlag = &cli.Int64Flag{
	Name:    "chain-id",
	Value:   1337,
	Usage:   "chain id used to sign contract transactions",
	EnvVars: []string{"FEDERATION_CHAIN_ID"},
}

var LedgerURLFlag = &cli.StringFlag{
	Name:    "ledger-url",
	Value:   "http://127.0.0.1:8080",
	Usage:   "ledger node API address",
	EnvVars: []string{"FEDERATION_LEDGER_URL"},
}

var LedgerTimeoutFlag = &cli.Int64Flag{
	Name:    "ledger-timeout",
	Value:   30,
	Usage:   "seconds to wait for a ledger node response",
	EnvVars: []string{"FEDERATION_LEDGER_TIMEOUT"},
}

var KeyFlag = &cli.StringFlag{
	Name:    "key",
	Usage:   "hex-encoded secp256k1 private key of the domain",
	EnvVars: []string{"FEDERATION_PRIVATE_KEY"},
}

var KeyFileFlag = &cli.StringFlag{
	Name:    "key-file",
	Usage:   "file holding the hex-encoded private key, overrides --key",
	EnvVars: []string{"FEDERATION_PRIVATE_KEY_FILE"},
}

var LedgerFlags = []cli.Flag{
	LedgerURLFlag,
	LedgerTimeoutFlag,
	RpcAddrFlag,
	ContractAddrFlag,
	ChainIDFlag,
	KeyFlag,
	KeyFileFlag,
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	Usage:   "log debug messages",
	EnvVars: []string{"FEDERATION_LOG_DEBUG"},
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics",
	EnvVars: []string{"FEDERATION_METRICS_ADDR"},
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
