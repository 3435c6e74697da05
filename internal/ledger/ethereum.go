package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"blockmail/internal/mail"
)

// Backend is the subset of an Ethereum JSON-RPC client the ledger needs.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// EthereumConfig locates the contracts on an Ethereum-compatible chain.
type EthereumConfig struct {
	RPCURL          string
	MailboxAddress  common.Address
	RegistryAddress common.Address // zero when no registry is configured
	StartBlock      uint64
	ConfirmInterval time.Duration
}

// EthereumClient implements mail.Ledger and mail.Registry against the
// BlockMail and KeyRegistry contracts, signing as one wallet.
type EthereumClient struct {
	backend Backend
	cfg     EthereumConfig
	signer  *bind.TransactOpts
	logger  mail.Logger

	mailboxABI abi.ABI
	mailbox    *bind.BoundContract
	registry   *bind.BoundContract // nil when no registry is configured
}

var (
	_ mail.Ledger   = (*EthereumClient)(nil)
	_ mail.Registry = (*EthereumClient)(nil)
)

// DialEthereum connects to cfg.RPCURL and binds the contracts for key.
func DialEthereum(ctx context.Context, cfg EthereumConfig, key *ecdsa.PrivateKey, logger mail.Logger) (*EthereumClient, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, mail.LedgerUnavailable("dial", err)
	}
	c, err := NewEthereumClient(ctx, client, cfg, key, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

// NewEthereumClient binds the contracts on an existing backend. The client
// takes ownership of backend and closes it in Close.
func NewEthereumClient(ctx context.Context, backend Backend, cfg EthereumConfig, key *ecdsa.PrivateKey, logger mail.Logger) (*EthereumClient, error) {
	if cfg.MailboxAddress == (common.Address{}) {
		return nil, errors.New("mailbox contract address is required")
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, mail.LedgerUnavailable("chainId", err)
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("creating transactor: %w", err)
	}

	mailboxABI, err := abi.JSON(strings.NewReader(mailboxABI))
	if err != nil {
		return nil, fmt.Errorf("parsing mailbox ABI: %w", err)
	}

	c := &EthereumClient{
		backend:    backend,
		cfg:        cfg,
		signer:     signer,
		logger:     logger,
		mailboxABI: mailboxABI,
		mailbox:    bind.NewBoundContract(cfg.MailboxAddress, mailboxABI, backend, backend, backend),
	}

	if cfg.RegistryAddress != (common.Address{}) {
		registryABI, err := abi.JSON(strings.NewReader(registryABI))
		if err != nil {
			return nil, fmt.Errorf("parsing registry ABI: %w", err)
		}
		c.registry = bind.NewBoundContract(cfg.RegistryAddress, registryABI, backend, backend, backend)
	}

	logger.Debug("ledger bound", "chain_id", chainID.String(), "mailbox", cfg.MailboxAddress.Hex(),
		"registry", cfg.RegistryAddress.Hex(), "signer", signer.From.Hex())
	return c, nil
}

// Address returns the signing wallet address.
func (c *EthereumClient) Address() common.Address {
	return c.signer.From
}

func (c *EthereumClient) txOpts(ctx context.Context) *bind.TransactOpts {
	opts := *c.signer
	opts.Context = ctx
	return &opts
}

// SendMessage calls sendMessage(to, cid) and waits for the receipt. The
// record is decoded from the Message event in the receipt.
func (c *EthereumClient) SendMessage(ctx context.Context, to common.Address, contentID string) (*mail.LedgerRecord, error) {
	tx, err := c.mailbox.Transact(c.txOpts(ctx), sendMessageFunc, to, contentID)
	if err != nil {
		return nil, mail.LedgerUnavailable(sendMessageFunc, err)
	}
	c.logger.Debug("message transaction submitted", "tx", tx.Hash().Hex(), "cid", contentID)

	receipt, err := c.mined(ctx, sendMessageFunc, tx.Hash())
	if err != nil {
		return nil, err
	}

	event := c.mailboxABI.Events[messageEvent]
	for _, l := range receipt.Logs {
		if l.Address != c.cfg.MailboxAddress || len(l.Topics) == 0 || l.Topics[0] != event.ID {
			continue
		}
		rec, err := c.decodeMessageLog(*l)
		if err != nil {
			return nil, err
		}
		return &rec, nil
	}
	return nil, fmt.Errorf("%w: receipt for %s has no Message event", mail.ErrMalformedRecord, tx.Hash().Hex())
}

// Messages filters Message events by the indexed from/to topics.
func (c *EthereumClient) Messages(ctx context.Context, q mail.RecordQuery) ([]mail.LedgerRecord, error) {
	event := c.mailboxABI.Events[messageEvent]
	topics := [][]common.Hash{{event.ID}, nil, nil}
	if q.From != nil {
		topics[1] = []common.Hash{common.BytesToHash(q.From.Bytes())}
	}
	if q.To != nil {
		topics[2] = []common.Hash{common.BytesToHash(q.To.Bytes())}
	}

	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(c.cfg.StartBlock),
		Addresses: []common.Address{c.cfg.MailboxAddress},
		Topics:    topics,
	})
	if err != nil {
		return nil, mail.LedgerUnavailable("queryFilter", err)
	}

	records := make([]mail.LedgerRecord, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		rec, err := c.decodeMessageLog(l)
		if err != nil {
			c.logger.Warn("dropping malformed ledger event", "tx", l.TxHash.Hex(), "block", l.BlockNumber, "error", err)
			continue
		}
		if !q.Matches(rec) {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

type messageLog struct {
	From      common.Address
	To        common.Address
	Cid       string
	Timestamp *big.Int
}

// decodeMessageLog turns a raw Message log into a LedgerRecord, rejecting
// anything that does not match the event layout.
func (c *EthereumClient) decodeMessageLog(l types.Log) (mail.LedgerRecord, error) {
	if len(l.Topics) != 3 {
		return mail.LedgerRecord{}, fmt.Errorf("%w: %d topics", mail.ErrMalformedRecord, len(l.Topics))
	}
	var ev messageLog
	if err := c.mailbox.UnpackLog(&ev, messageEvent, l); err != nil {
		return mail.LedgerRecord{}, fmt.Errorf("%w: %v", mail.ErrMalformedRecord, err)
	}
	if ev.Cid == "" {
		return mail.LedgerRecord{}, fmt.Errorf("%w: empty content id", mail.ErrMalformedRecord)
	}
	if ev.Timestamp == nil || !ev.Timestamp.IsInt64() || ev.Timestamp.Sign() < 0 {
		return mail.LedgerRecord{}, fmt.Errorf("%w: timestamp out of range", mail.ErrMalformedRecord)
	}
	return mail.LedgerRecord{
		From:        ev.From,
		To:          ev.To,
		ContentID:   ev.Cid,
		Timestamp:   time.Unix(ev.Timestamp.Int64(), 0).UTC(),
		BlockHeight: l.BlockNumber,
	}, nil
}

// PubKey calls pk(address) on the registry.
func (c *EthereumClient) PubKey(ctx context.Context, address common.Address) (mail.PublicKey, error) {
	if c.registry == nil {
		return mail.PublicKey{}, mail.ErrRegistryUndeployed
	}

	var out []interface{}
	err := c.registry.Call(&bind.CallOpts{Context: ctx}, &out, pubKeyGetterFunc, address)
	if errors.Is(err, bind.ErrNoCode) {
		return mail.PublicKey{}, fmt.Errorf("%w at %s", mail.ErrRegistryUndeployed, c.cfg.RegistryAddress.Hex())
	}
	if err != nil {
		return mail.PublicKey{}, mail.LedgerUnavailable(pubKeyGetterFunc, err)
	}
	if len(out) != 1 {
		return mail.PublicKey{}, fmt.Errorf("%w: pk() returned %d values", mail.ErrRegistryUndeployed, len(out))
	}
	key, ok := out[0].([32]byte)
	if !ok {
		return mail.PublicKey{}, fmt.Errorf("%w: pk() returned %T", mail.ErrRegistryUndeployed, out[0])
	}
	return mail.PublicKey(key), nil
}

// SetPubKey calls setPubKey(key) and waits for inclusion.
func (c *EthereumClient) SetPubKey(ctx context.Context, key mail.PublicKey) error {
	if c.registry == nil {
		return mail.ErrRegistryUndeployed
	}

	tx, err := c.registry.Transact(c.txOpts(ctx), setPubKeyFunc, [32]byte(key))
	if err != nil {
		if errors.Is(err, bind.ErrNoCode) {
			return fmt.Errorf("%w at %s", mail.ErrRegistryUndeployed, c.cfg.RegistryAddress.Hex())
		}
		return mail.LedgerUnavailable(setPubKeyFunc, err)
	}
	if _, err := c.mined(ctx, setPubKeyFunc, tx.Hash()); err != nil {
		return err
	}
	c.logger.Debug("public key transaction mined", "tx", tx.Hash().Hex())
	return nil
}

// mined waits for the receipt of hash. A revert is returned as ErrReverted,
// everything else as a transport failure of op.
func (c *EthereumClient) mined(ctx context.Context, op string, hash common.Hash) (*types.Receipt, error) {
	receipt, err := waitMined(ctx, c.backend, hash, c.cfg.ConfirmInterval)
	if errors.Is(err, ErrReverted) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		return nil, mail.LedgerUnavailable(op, err)
	}
	return receipt, nil
}

// Close closes the RPC connection.
func (c *EthereumClient) Close() error {
	c.backend.Close()
	return nil
}

// ParsePrivateKey decodes a hex wallet key, with or without 0x.
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing wallet key: %w", err)
	}
	return key, nil
}

// AddressOf returns the wallet address controlled by key.
func AddressOf(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}
