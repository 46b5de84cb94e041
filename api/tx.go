package api

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/dlt-service-federation/federation"
	"github.com/ruteri/dlt-service-federation/interfaces"
)

// TxPayload is the signed part of a transaction.
type TxPayload struct {
	Tx    federation.Tx `json:"tx"`
	Nonce uint64        `json:"nonce"`
}

// SignedTx is a transaction envelope authenticated by its caller.
type SignedTx struct {
	Payload   json.RawMessage `json:"payload"`
	Signature hexutil.Bytes   `json:"signature"`
}

// SignTx sets the caller of tx to the key's address and signs it.
func SignTx(key *ecdsa.PrivateKey, tx federation.Tx, nonce uint64) (*SignedTx, error) {
	tx.Caller = interfaces.Identity(crypto.PubkeyToAddress(key.PublicKey))

	payload, err := json.Marshal(TxPayload{Tx: tx, Nonce: nonce})
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	sig, err := crypto.Sign(crypto.Keccak256(payload), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	return &SignedTx{Payload: payload, Signature: sig}, nil
}

// Hash is keccak256 of the payload.
func (s *SignedTx) Hash() interfaces.TxHash {
	return interfaces.TxHash(crypto.Keccak256Hash(s.Payload))
}

// Verify decodes the payload and checks that it was signed by its caller.
func (s *SignedTx) Verify() (federation.Tx, error) {
	var payload TxPayload
	if err := json.Unmarshal(s.Payload, &payload); err != nil {
		return federation.Tx{}, fmt.Errorf("%w: %v", interfaces.ErrInvalidInput, err)
	}

	if len(s.Signature) != crypto.SignatureLength {
		return federation.Tx{}, fmt.Errorf("%w: signature must be %d bytes", ErrInvalidSignature, crypto.SignatureLength)
	}

	pubkey, err := crypto.SigToPub(crypto.Keccak256(s.Payload), s.Signature)
	if err != nil {
		return federation.Tx{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	signer := interfaces.Identity(crypto.PubkeyToAddress(*pubkey))
	if signer != payload.Tx.Caller {
		return federation.Tx{}, fmt.Errorf("%w: signed by %s, caller is %s", ErrInvalidSignature, signer, payload.Tx.Caller)
	}

	return payload.Tx, nil
}
