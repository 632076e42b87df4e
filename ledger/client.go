package ledger

import (
	"context"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// SDK is the external ledger library. Write broadcasts a new transaction;
// ResumeWrite continues a previously-broadcast-but-unacknowledged one using
// the resumption parameters the failed call left behind. Either call may
// return the transaction reference as a plain string, as a map, or as a
// WriteResult.
type SDK interface {
	Write(ctx context.Context, payload []byte, datatype, handle string) (interface{}, error)
	ResumeWrite(ctx context.Context, brokeNum int64, beforeHash string, payload []byte, datatype, handle string) (interface{}, error)
}

// WriteResult is the structured response shape some SDK versions return.
// Exactly one of the reference fields is normally populated.
type WriteResult struct {
	TxID        string
	Signature   string
	Transaction string
	Object      string
}

// SubmitResult is the outcome of one logical submission.
type SubmitResult struct {
	TxRef     string
	ObjectRef string
}

// Client performs exactly one logical submission per Submit call, hiding
// the SDK's two-step failure mode (broadcast succeeded, acknowledgement
// lost) behind a single operation.
type Client struct {
	sdk     SDK
	timeout time.Duration
	logger  cmtlog.Logger
}

func NewClient(sdk SDK, timeout time.Duration, logger cmtlog.Logger) *Client {
	return &Client{
		sdk:     sdk,
		timeout: timeout,
		logger:  logger,
	}
}

// Submit writes the serialized payload to the ledger under the hard
// timeout. On a primary failure carrying resumption parameters, a single
// resume call is issued with the byte-identical payload; the resume must
// reuse the original bytes or the ledger would commit mismatched content
// under the resumed sequence number. Recovery is attempted once, never
// nested.
func (c *Client) Submit(ctx context.Context, serialized []byte, datatype, handle string) (*SubmitResult, error) {
	resp, err := withTimeout(ctx, c.timeout, func(ctx context.Context) (interface{}, error) {
		return c.sdk.Write(ctx, serialized, datatype, handle)
	})
	if err != nil {
		rec, ok := ExtractRecovery(err)
		if !ok {
			return nil, err
		}
		c.logger.Error("resuming interrupted ledger broadcast",
			"broke_num", rec.BrokeNum,
			"before_hash", rec.BeforeHash,
		)
		resp, err = withTimeout(ctx, c.timeout, func(ctx context.Context) (interface{}, error) {
			return c.sdk.ResumeWrite(ctx, rec.BrokeNum, rec.BeforeHash, serialized, datatype, handle)
		})
		if err != nil {
			return nil, err
		}
	}

	result := extractResult(resp)
	if result.TxRef == "" {
		return nil, ErrEmptyReference
	}
	return result, nil
}

// extractResult pulls the transaction reference out of whichever response
// shape the SDK returned. An empty TxRef means no reference was found.
func extractResult(resp interface{}) *SubmitResult {
	switch v := resp.(type) {
	case string:
		return &SubmitResult{TxRef: v}
	case WriteResult:
		return resultFromWriteResult(&v)
	case *WriteResult:
		return resultFromWriteResult(v)
	case map[string]interface{}:
		out := &SubmitResult{}
		for _, key := range []string{"txid", "signature", "transaction"} {
			if s, ok := v[key].(string); ok && s != "" {
				out.TxRef = s
				break
			}
		}
		if s, ok := v["object"].(string); ok {
			out.ObjectRef = s
		}
		return out
	default:
		return &SubmitResult{}
	}
}

func resultFromWriteResult(v *WriteResult) *SubmitResult {
	out := &SubmitResult{ObjectRef: v.Object}
	switch {
	case v.TxID != "":
		out.TxRef = v.TxID
	case v.Signature != "":
		out.TxRef = v.Signature
	case v.Transaction != "":
		out.TxRef = v.Transaction
	}
	return out
}
