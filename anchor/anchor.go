// Package anchor submits ultimate Merkle roots to the anchoring contract
// and verifies recorded transactions against an expected root.
//
// The contract exposes two entry points, putRootLegacy and putRootEmitOnly,
// both emitting MerkleRootSubmitted. Submission follows EIP-1559 with
// per-network priority-fee floors so transactions do not stall on chains
// with minimum-tip enforcement (Polygon Amoy requires 25 gwei).
package anchor

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"justifai.co/issuance/hashkit"
	"justifai.co/issuance/model"
)

const contractABI = `[
	{"type":"function","name":"putRootLegacy","inputs":[{"name":"timeWindow","type":"uint256"},{"name":"root","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"putRootEmitOnly","inputs":[{"name":"timeWindow","type":"uint256"},{"name":"root","type":"bytes32"}],"outputs":[]},
	{"type":"event","name":"MerkleRootSubmitted","inputs":[
		{"name":"timeWindow","type":"uint256","indexed":true},
		{"name":"root","type":"bytes32","indexed":true},
		{"name":"issuer","type":"address","indexed":true},
		{"name":"blockNumber","type":"uint256","indexed":false}]}
]`

// ContractType selects the submission entry point.
type ContractType string

const (
	ContractLegacy   ContractType = "legacy"
	ContractEmitOnly ContractType = "emitOnly"
)

// Config carries the chain settings.
type Config struct {
	RPCURL         string
	PrivateKeyHex  string
	Contract       string
	Type           ContractType
	ChainID        int64
	Network        string
	MinPriorityFee *big.Int // wei; nil uses the per-network floor
	MinMaxFee      *big.Int // wei; nil disables the floor
}

// Receipt reports a successful anchor submission.
type Receipt struct {
	TxHash      string
	Network     string
	BlockNumber uint64
	Event       *RootEvent
}

// RootEvent is a decoded MerkleRootSubmitted emission.
type RootEvent struct {
	TimeWindow  uint64
	Root        string // lowercase hex, no 0x
	Issuer      string
	BlockNumber uint64
}

// Verification is the result surface of VerifyTransaction.
type Verification struct {
	Verified     bool
	BlockNumber  uint64
	MRUFromEvent string
	MRUMatches   bool
	ExplorerURL  string
	Detail       string
}

// Client anchors roots through a JSON-RPC endpoint.
type Client struct {
	eth      *ethclient.Client
	abi      abi.ABI
	priv     *ecdsa.PrivateKey
	contract common.Address
	chainID  *big.Int
	cfg      Config
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, model.NewError(model.KindConfiguration, "JF-CHAIN-001", "RPC_URL is required")
	}
	if cfg.Contract == "" {
		return nil, model.NewError(model.KindConfiguration, "JF-CHAIN-002", "ANCHORSTORE_ADDRESS is required")
	}
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, model.WrapError(model.KindChain, "JF-CHAIN-003", "contract ABI failed to parse", err)
	}
	priv, err := ethcrypto.HexToECDSA(hashkit.NormalizeHex(cfg.PrivateKeyHex))
	if err != nil {
		return nil, model.WrapError(model.KindConfiguration, "JF-CHAIN-004", "PRIVATE_KEY is not a valid secp256k1 key", err)
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, model.WrapError(model.KindChain, "JF-CHAIN-005", "RPC endpoint unreachable", err)
	}
	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			return nil, model.WrapError(model.KindChain, "JF-CHAIN-006", "chain id query failed", err)
		}
	}
	if cfg.Type == "" {
		cfg.Type = ContractEmitOnly
	}
	return &Client{
		eth:      eth,
		abi:      parsed,
		priv:     priv,
		contract: common.HexToAddress(cfg.Contract),
		chainID:  chainID,
		cfg:      cfg,
	}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Anchor submits root with the batch time window and waits for one
// confirmation.
func (c *Client) Anchor(ctx context.Context, root [32]byte, timeWindow uint64) (*Receipt, error) {
	method := "putRootEmitOnly"
	if c.cfg.Type == ContractLegacy {
		method = "putRootLegacy"
	}
	data, err := c.abi.Pack(method, new(big.Int).SetUint64(timeWindow), root)
	if err != nil {
		return nil, model.WrapError(model.KindChain, "JF-CHAIN-010", "calldata packing failed", err)
	}

	from := ethcrypto.PubkeyToAddress(c.priv.PublicKey)
	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, model.WrapError(model.KindChain, "JF-CHAIN-011", "nonce query failed", err)
	}
	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, model.WrapError(model.KindChain, "JF-CHAIN-012", "tip suggestion failed", err)
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, model.WrapError(model.KindChain, "JF-CHAIN-013", "head query failed", err)
	}
	priority, maxFee := FeeCaps(tip, head.BaseFee, c.cfg.Network, c.cfg.MinPriorityFee, c.cfg.MinMaxFee)

	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &c.contract, Data: data})
	if err != nil {
		// Estimation can fail on picky RPC nodes; anchoring calldata is small.
		gas = 200_000
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: priority,
		GasFeeCap: maxFee,
		Gas:       gas,
		To:        &c.contract,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.priv)
	if err != nil {
		return nil, model.WrapError(model.KindChain, "JF-CHAIN-014", "transaction signing failed", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, model.WrapError(model.KindChain, "JF-CHAIN-015", "transaction submission failed", err)
	}

	receipt, err := waitMined(ctx, c.eth, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, model.NewError(model.KindChain, "JF-CHAIN-017", "anchor transaction reverted")
	}
	out := &Receipt{
		TxHash:      signed.Hash().Hex(),
		Network:     c.cfg.Network,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}
	if ev, ok := ParseRootEvent(receipt.Logs); ok {
		out.Event = ev
	}
	return out, nil
}

// VerifyTransaction checks a recorded anchor transaction: existence, success
// status, and the emitted root. When expectedMRU is non-empty the root match
// is mandatory for Verified.
func (c *Client) VerifyTransaction(ctx context.Context, txHash, expectedMRU string) (*Verification, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return &Verification{Detail: "transaction not found"},
			model.WrapError(model.KindChain, "JF-CHAIN-020", "transaction lookup failed", err)
	}
	v := &Verification{
		BlockNumber: receipt.BlockNumber.Uint64(),
		ExplorerURL: ExplorerTxURL(c.cfg.Network, txHash),
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		v.Detail = "transaction reverted"
		return v, nil
	}
	ev, ok := ParseRootEvent(receipt.Logs)
	if !ok {
		v.Detail = "no MerkleRootSubmitted event in receipt"
		return v, nil
	}
	v.MRUFromEvent = ev.Root
	if expectedMRU == "" {
		v.Verified = true
		return v, nil
	}
	v.MRUMatches = hashkit.NormalizeHex(expectedMRU) == ev.Root
	v.Verified = v.MRUMatches
	if !v.MRUMatches {
		v.Detail = "event root does not match expected ultimate root"
	}
	return v, nil
}

func waitMined(ctx context.Context, eth *ethclient.Client, hash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, model.WrapError(model.KindChain, "JF-CHAIN-016", "confirmation wait aborted", ctx.Err())
		case <-clockTick():
		}
	}
}
