/*
Package clients provides client libraries for the federation ledger node API.

LedgerClient implements interfaces.FederationLedger over HTTP. It signs every
mutating transaction with the key of the caller it names, so a single client
can act for several identities, and it leaves queries unsigned. Transport
failures and unreadable 5xx responses wrap interfaces.ErrLedgerUnavailable;
ledger rejections come back as *interfaces.FederationError with the original
error kind, so callers can tell a retryable failure from an authoritative one.

# Example

	key, _ := crypto.HexToECDSA(hexKey)
	ledger := clients.NewLedgerClient("http://localhost:8545", 10*time.Second, key)
	me := interfaces.Identity(crypto.PubkeyToAddress(key.PublicKey))

	if _, err := ledger.Register(ctx, me, "Domain1"); err != nil {
		return err
	}
*/
package clients
