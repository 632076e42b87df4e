package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	cmthttp "github.com/cometbft/cometbft/rpc/client/http"
	cmttypes "github.com/cometbft/cometbft/types"
)

// CometSDK adapts a CometBFT chain to the SDK interface. The chain routes
// by payload content, so the datatype and handle identifiers are carried
// for SDK compatibility but not embedded in the transaction; the payload
// bytes go on the wire unchanged.
type CometSDK struct {
	client *cmthttp.HTTP
}

// NewCometSDK creates an HTTP RPC client without WebSocket against the
// given RPC address.
func NewCometSDK(rpcAddr string) (*CometSDK, error) {
	client, err := cmthttp.NewWithClient(
		rpcAddr,
		&http.Client{
			Timeout: 10 * time.Second,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CometBFT client: %w", err)
	}
	return &CometSDK{client: client}, nil
}

// Write broadcasts the payload and waits for it to be checked and
// committed.
func (c *CometSDK) Write(ctx context.Context, payload []byte, datatype, handle string) (interface{}, error) {
	result, err := c.client.BroadcastTxCommit(ctx, cmttypes.Tx(payload))
	if err != nil {
		return nil, err
	}
	if result.CheckTx.Code != 0 {
		return nil, &SubmitError{
			Message: fmt.Sprintf("ledger rejected transaction: CheckTx code %d", result.CheckTx.Code),
		}
	}
	return map[string]interface{}{
		"txid":   hex.EncodeToString(result.Hash),
		"object": strconv.FormatInt(result.Height, 10),
	}, nil
}

// ResumeWrite re-broadcasts the identical bytes in sync mode. The chain
// identifies a transaction by its content hash, so a duplicate of the
// pending broadcast is deduplicated in the mempool and the prior sequence
// is continued rather than doubled.
func (c *CometSDK) ResumeWrite(ctx context.Context, brokeNum int64, beforeHash string, payload []byte, datatype, handle string) (interface{}, error) {
	result, err := c.client.BroadcastTxSync(ctx, cmttypes.Tx(payload))
	if err != nil {
		return nil, err
	}
	if result.Code != 0 {
		return nil, &SubmitError{
			Message: fmt.Sprintf("ledger rejected resumed transaction %d: code %d", brokeNum, result.Code),
		}
	}
	return map[string]interface{}{
		"txid":   hex.EncodeToString(result.Hash),
		"object": beforeHash,
	}, nil
}
