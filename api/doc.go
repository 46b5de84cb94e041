/*
Package api defines the wire format shared by the ledger node and its clients.

Mutating operations travel as a SignedTx: a JSON payload holding a
federation.Tx and a nonce, signed with the caller's secp256k1 key. The node
recovers the signer from the signature and rejects the transaction unless the
recovered address equals the caller named in the payload, so the caller
identity threaded through every operation is always authenticated. The
transaction hash is keccak256 of the payload; resubmitting the same envelope
returns the original receipt.

Queries are plain GET requests. The caller identity is passed in the
CallerHeader, the same way an eth_call names its sender.

Rejections are returned as an ErrorResponse carrying the error kind name, so
that clients can map them back onto the interfaces error kinds.

# Endpoints

  - POST /api/v1/tx - submit a SignedTx, returns a TxResponse
  - GET /api/v1/tx/{hash} - receipt of a committed transaction
  - GET /api/v1/operators/{identity} - operator name
  - GET /api/v1/services/{id}/state
  - GET /api/v1/services/{id}/info?as_provider=
  - GET /api/v1/services/{id}/endpoint?of_provider=
  - GET /api/v1/services/{id}/bids - bid count
  - GET /api/v1/services/{id}/bids/{index}
  - GET /api/v1/services/{id}/winner/{candidate}
  - GET /api/v1/events?after=&limit=
  - GET /api/v1/height
*/
package api
