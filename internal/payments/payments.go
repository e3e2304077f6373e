// Package payments settles order amounts through a wallet relay.
package payments

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/xtrntr/blockmarket/internal/models"
)

// Intent is a request to move the value of one order to the treasury
type Intent struct {
	OrderID string         `json:"order_id"`
	BuyerID int            `json:"buyer_id"`
	Amount  string         `json:"amount"`
	To      common.Address `json:"to"`
	Nonce   uint64         `json:"nonce"`
}

// Hash returns the Keccak256 digest that gets signed
func (i Intent) Hash() common.Hash {
	var buyer, nonce [8]byte
	binary.BigEndian.PutUint64(buyer[:], uint64(i.BuyerID))
	binary.BigEndian.PutUint64(nonce[:], i.Nonce)
	return crypto.Keccak256Hash(
		[]byte(i.OrderID),
		buyer[:],
		[]byte(i.Amount),
		i.To.Bytes(),
		nonce[:],
	)
}

// SignedIntent is the body posted to the relay
type SignedIntent struct {
	Intent    Intent         `json:"intent"`
	Signer    common.Address `json:"signer"`
	Signature string         `json:"signature"`
}

// WalletPayer signs payment intents with a secp256k1 key and submits them to a relay
type WalletPayer struct {
	Treasury common.Address
	RelayURL string
	Client   *http.Client
	Logger   *zap.Logger

	key     *ecdsa.PrivateKey
	address common.Address
}

// NewWalletPayer creates a payer from a hex-encoded private key ("0x" prefix optional)
func NewWalletPayer(privateKeyHex, treasury, relayURL string, logger *zap.Logger) (*WalletPayer, error) {
	if len(privateKeyHex) > 1 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	if !common.IsHexAddress(treasury) {
		return nil, fmt.Errorf("invalid treasury address %q", treasury)
	}
	if relayURL == "" {
		return nil, fmt.Errorf("relay url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletPayer{
		Treasury: common.HexToAddress(treasury),
		RelayURL: relayURL,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Logger:   logger,
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the wallet address payments are signed with
func (w *WalletPayer) Address() common.Address {
	return w.address
}

// Sign produces a 65-byte [R || S || V] signature over the intent hash.
func (w *WalletPayer) Sign(i Intent) (SignedIntent, error) {
	sig, err := crypto.Sign(i.Hash().Bytes(), w.key)
	if err != nil {
		return SignedIntent{}, fmt.Errorf("failed to sign: %w", err)
	}
	return SignedIntent{Intent: i, Signer: w.address, Signature: hexutil.Encode(sig)}, nil
}

// Pay signs an intent for o and posts it to the relay. Every failure wraps
// models.ErrPaymentFailed.
func (w *WalletPayer) Pay(ctx context.Context, o models.Order) error {
	nonce, err := newNonce()
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrPaymentFailed, err)
	}
	signed, err := w.Sign(Intent{
		OrderID: o.ID,
		BuyerID: o.BuyerID,
		Amount:  o.Price.StringFixed(2),
		To:      w.Treasury,
		Nonce:   nonce,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrPaymentFailed, err)
	}

	body, err := json.Marshal(signed)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrPaymentFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.RelayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrPaymentFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: relay unreachable: %w", models.ErrPaymentFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: relay returned %d", models.ErrPaymentFailed, resp.StatusCode)
	}

	w.Logger.Info("payment submitted",
		zap.String("order_id", o.ID),
		zap.String("amount", signed.Intent.Amount),
		zap.String("signer", w.address.Hex()))
	return nil
}

// VerifyIntent recovers the signer of s and checks it against s.Signer.
func VerifyIntent(s SignedIntent) (common.Address, error) {
	sig, err := hexutil.Decode(s.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(sig))
	}
	pub, err := crypto.SigToPub(s.Intent.Hash().Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	addr := crypto.PubkeyToAddress(*pub)
	if addr != s.Signer {
		return addr, fmt.Errorf("signature by %s, expected %s", addr.Hex(), s.Signer.Hex())
	}
	return addr, nil
}

func newNonce() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
