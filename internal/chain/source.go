package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Source is the read-only slice of a JSON-RPC node the indexer needs: the
// chain head, raw logs per contract over a block range, and view calls.
type Source interface {
	HeadBlock(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, addr common.Address, fromBlock, toBlock uint64) ([]types.Log, error)
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Client backs Source with go-ethereum's ethclient.
type Client struct {
	eth *ethclient.Client
}

func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return &Client{eth: eth}, nil
}

func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

func (c *Client) FilterLogs(ctx context.Context, addr common.Address, fromBlock, toBlock uint64) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{addr},
	})
}

func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func (c *Client) Close() {
	c.eth.Close()
}

// Deployments are the resolved registry addresses for one chain. JobBoard is
// optional; when nil the job-board contract group is skipped entirely.
type Deployments struct {
	ChainID    int64
	Identity   common.Address
	Reputation common.Address
	Validation common.Address
	JobBoard   *common.Address
}
