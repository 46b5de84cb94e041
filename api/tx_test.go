package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/dlt-service-federation/federation"
	"github.com/ruteri/dlt-service-federation/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedTx(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	caller := interfaces.Identity(crypto.PubkeyToAddress(key.PublicKey))

	signed, err := SignTx(key, federation.Tx{Op: federation.OpPlaceBid, ServiceID: "svc-1", Price: 5}, 7)
	require.NoError(t, err)

	tx, err := signed.Verify()
	require.NoError(t, err)
	assert.Equal(t, caller, tx.Caller, "caller is taken from the signing key")
	assert.Equal(t, uint64(5), tx.Price)

	again, err := SignTx(key, federation.Tx{Op: federation.OpPlaceBid, ServiceID: "svc-1", Price: 5}, 7)
	require.NoError(t, err)
	assert.Equal(t, signed.Hash(), again.Hash(), "hash covers the payload only")

	other, err := SignTx(key, federation.Tx{Op: federation.OpPlaceBid, ServiceID: "svc-1", Price: 5}, 8)
	require.NoError(t, err)
	assert.NotEqual(t, signed.Hash(), other.Hash())
}

func TestSignedTxRejectsForgery(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	signed, err := SignTx(key, federation.Tx{Op: federation.OpRegister, Name: "Domain1"}, 1)
	require.NoError(t, err)

	// Rewrite the caller without re-signing.
	var payload TxPayload
	require.NoError(t, json.Unmarshal(signed.Payload, &payload))
	payload.Tx.Caller = interfaces.Identity{0x01}
	forged, err := json.Marshal(payload)
	require.NoError(t, err)

	_, err = (&SignedTx{Payload: forged, Signature: signed.Signature}).Verify()
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = (&SignedTx{Payload: signed.Payload, Signature: signed.Signature[:10]}).Verify()
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = (&SignedTx{Payload: []byte("{"), Signature: signed.Signature}).Verify()
	assert.ErrorIs(t, err, interfaces.ErrInvalidInput)
}

func TestErrorResponseRoundTrip(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
	}{
		{"not creator", &interfaces.FederationError{Op: "chooseProvider", Kind: interfaces.ErrNotCreator, ServiceID: "svc-1", Identity: interfaces.Identity{0x0b}}, http.StatusForbidden},
		{"service not open", &interfaces.FederationError{Op: "placeBid", Kind: interfaces.ErrServiceNotOpen, ServiceID: "svc-1"}, http.StatusConflict},
		{"not found", &interfaces.FederationError{Op: "markDeployed", Kind: interfaces.ErrServiceNotFound, ServiceID: "svc-9"}, http.StatusNotFound},
		{"invalid input", &interfaces.FederationError{Op: "register", Kind: interfaces.ErrInvalidInput}, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, StatusForError(tc.err))

			encoded, err := json.Marshal(NewErrorResponse(tc.err))
			require.NoError(t, err)
			var decoded ErrorResponse
			require.NoError(t, json.Unmarshal(encoded, &decoded))

			rebuilt := decoded.Err()
			var want, got *interfaces.FederationError
			require.ErrorAs(t, tc.err, &want)
			require.ErrorAs(t, rebuilt, &got)
			assert.ErrorIs(t, rebuilt, want.Kind)
			assert.Equal(t, want.ServiceID, got.ServiceID)
			assert.Equal(t, want.Identity, got.Identity)
			assert.Equal(t, want.Op, got.Op)
		})
	}

	rebuilt := NewErrorResponse(interfaces.ErrTxNotFound).Err()
	assert.ErrorIs(t, rebuilt, interfaces.ErrTxNotFound)
}
