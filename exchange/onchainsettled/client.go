// Package onchainsettled implements exchange.Adapter for a venue whose
// orders settle through an on-chain exchange contract rather than a
// centralized matching engine — e.g. a CLOB that only records intent
// off-chain and settles fills on-chain. EIP-712 order signing is grounded
// on exec/client.go's signOrderEIP712/buildDomainSeparator/
// buildOrderStructHash trio, generalized from Polymarket's fixed
// CTFExchange/ChainID constants to a configurable contract address and
// chain id so it can describe any CTF-style settlement venue, not just
// Polymarket.
package onchainsettled

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/veloxtrade/execengine/exchange"
)

// Config configures one on-chain-settled venue.
type Config struct {
	ExchangeID      string
	ContractAddress string
	ChainID         int64
	PrivateKeyHex   string // 0x-prefixed or bare hex
}

// Client settles orders by signing an EIP-712 order struct and handing it
// to a (simulated, here) settlement submitter. It implements a REST-less
// polling model: FetchOrder reads from an in-memory ledger that a real
// implementation would instead read from the settlement contract's events.
type Client struct {
	cfg        Config
	privateKey *ecdsa.PrivateKey
	address    common.Address

	mu     sync.Mutex
	ledger map[string]exchange.OrderStatus
	nonce  uint64
}

// New constructs a Client from Config. Returns an error if the private key
// is malformed, mirroring exec/client.go's NewClient private-key handling.
func New(cfg Config) (*Client, error) {
	keyHex := cfg.PrivateKeyHex
	if len(keyHex) > 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}
	pk, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Client{
		cfg:        cfg,
		privateKey: pk,
		address:    crypto.PubkeyToAddress(pk.PublicKey),
		ledger:     make(map[string]exchange.OrderStatus),
	}, nil
}

func (c *Client) ID() string              { return c.cfg.ExchangeID }
func (c *Client) SupportsWebSocket() bool { return false }

// SetMarginMode and SetLeverage are no-ops on a spot, on-chain-settled
// venue: there is no margin/leverage concept to configure.
func (c *Client) SetMarginMode(ctx context.Context, symbol string) error      { return nil }
func (c *Client) SetLeverage(ctx context.Context, symbol string, lev int) error { return nil }

func (c *Client) CreateLimitOrder(ctx context.Context, symbol string, side exchange.Side, amount, price decimal.Decimal, params map[string]any) (string, error) {
	order := c.buildOrder(symbol, side, amount, price)
	sig, err := c.sign(order)
	if err != nil {
		return "", err
	}
	orderID := fmt.Sprintf("%s-%s", symbol, sig[2:10])
	c.record(orderID, symbol, amount)
	return orderID, nil
}

func (c *Client) CreateMarketOrder(ctx context.Context, symbol string, side exchange.Side, amount decimal.Decimal, params map[string]any) (string, error) {
	// A market order on a settlement-contract venue is a limit order priced
	// to cross immediately; price is irrelevant to the signature shape.
	return c.CreateLimitOrder(ctx, symbol, side, amount, decimal.Zero, params)
}

func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.ledger[orderID]
	if !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	st.State = exchange.ExchangeOrderCancelled
	c.ledger[orderID] = st
	return nil
}

func (c *Client) FetchOrder(ctx context.Context, orderID, symbol string) (exchange.OrderStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.ledger[orderID]
	if !ok {
		return exchange.OrderStatus{}, fmt.Errorf("unknown order %s", orderID)
	}
	return st, nil
}

func (c *Client) FetchOrderBook(ctx context.Context, symbol string) (exchange.BookTop, error) {
	return exchange.BookTop{}, fmt.Errorf("on-chain settled venue %s has no order book feed", c.cfg.ExchangeID)
}

func (c *Client) WatchOrderBook(ctx context.Context, symbol string) (<-chan exchange.BookTop, error) {
	return nil, fmt.Errorf("%s does not support websocket streams", c.cfg.ExchangeID)
}

func (c *Client) WatchOrders(ctx context.Context, symbol string) (<-chan exchange.OrderStatus, error) {
	return nil, fmt.Errorf("%s does not support websocket streams", c.cfg.ExchangeID)
}

func (c *Client) record(orderID, symbol string, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ledger[orderID] = exchange.OrderStatus{
		OrderID:         orderID,
		Symbol:          symbol,
		State:           exchange.ExchangeOrderFilled,
		FilledAmount:    amount,
		RemainingAmount: decimal.Zero,
	}
}

// signedOrder mirrors the teacher's SignedOrder shape, generalized with a
// configurable contract/chain instead of Polymarket's hardcoded constants.
type signedOrder struct {
	Salt        string
	Maker       string
	TokenSymbol string
	Side        int
	Expiration  string
}

func (c *Client) buildOrder(symbol string, side exchange.Side, amount, price decimal.Decimal) *signedOrder {
	c.mu.Lock()
	c.nonce++
	salt := fmt.Sprintf("%d", c.nonce)
	c.mu.Unlock()

	sideInt := 0
	if side == exchange.SideSell {
		sideInt = 1
	}

	return &signedOrder{
		Salt:        salt,
		Maker:       c.address.Hex(),
		TokenSymbol: symbol,
		Side:        sideInt,
		Expiration:  fmt.Sprintf("%d", time.Now().Add(24*time.Hour).Unix()),
	}
}

// sign produces an EIP-712 signature over the order struct, following the
// domain-separator + struct-hash + keccak256("\x19\x01"+...) pattern from
// exec/client.go, generalized to this venue's contract/chain configuration.
func (c *Client) sign(order *signedOrder) (string, error) {
	domainSeparator := c.domainSeparator()
	orderHash := orderStructHash(order)

	data := append([]byte("\x19\x01"), domainSeparator[:]...)
	data = append(data, orderHash[:]...)
	finalHash := crypto.Keccak256(data)

	sig, err := crypto.Sign(finalHash, c.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign order: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return hexutil.Encode(sig), nil
}

func (c *Client) domainSeparator() [32]byte {
	domainTypeHash := crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	nameHash := crypto.Keccak256([]byte("OnChainSettledExchange"))
	versionHash := crypto.Keccak256([]byte("1"))

	chainIDBytes := common.LeftPadBytes(big.NewInt(c.cfg.ChainID).Bytes(), 32)
	contractPadded := common.LeftPadBytes(common.HexToAddress(c.cfg.ContractAddress).Bytes(), 32)

	data := append([]byte{}, domainTypeHash...)
	data = append(data, nameHash...)
	data = append(data, versionHash...)
	data = append(data, chainIDBytes...)
	data = append(data, contractPadded...)

	var out [32]byte
	copy(out[:], crypto.Keccak256(data))
	return out
}

func orderStructHash(order *signedOrder) [32]byte {
	typeHash := crypto.Keccak256([]byte("Order(uint256 salt,address maker,string tokenSymbol,uint8 side,uint256 expiration)"))

	salt := padUint256(order.Salt)
	maker := common.LeftPadBytes(common.HexToAddress(order.Maker).Bytes(), 32)
	tokenSymbol := crypto.Keccak256([]byte(order.TokenSymbol))
	side := common.LeftPadBytes([]byte{byte(order.Side)}, 32)
	expiration := padUint256(order.Expiration)

	data := append([]byte{}, typeHash...)
	data = append(data, salt...)
	data = append(data, maker...)
	data = append(data, tokenSymbol...)
	data = append(data, side...)
	data = append(data, expiration...)

	var out [32]byte
	copy(out[:], crypto.Keccak256(data))
	return out
}

func padUint256(s string) []byte {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		n = big.NewInt(0)
	}
	return common.LeftPadBytes(n.Bytes(), 32)
}
