package chainrpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/dwarvesf/collateral-relayer/internal/consts"
	"github.com/dwarvesf/collateral-relayer/internal/utils/config"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
)

const (
	maxRetries     = 3
	ownedPageLimit = 50

	fnCreateCollateralProof = "create_collateral_proof"
	fnAttestDeposit         = "attest_deposit"
)

var ErrTransactionFailed = errors.New("chain transaction failed")

type ChainRPC struct {
	client     *resty.Client
	logger     *logger.Logger
	signer     *Signer
	packageID  string
	module     string
	registryID string
	gasBudget  int64
	nextID     atomic.Uint64
}

func New(appConfig *config.AppConfig, logger *logger.Logger) (*ChainRPC, error) {
	signer, err := NewSigner(appConfig.Chain.RelayerPrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load relayer key")
	}
	return newWithRetryWait(appConfig.Chain, signer, logger, time.Second), nil
}

func newWithRetryWait(cfg config.ChainConfig, signer *Signer, logger *logger.Logger, wait time.Duration) *ChainRPC {
	c := &ChainRPC{
		logger:     logger,
		signer:     signer,
		packageID:  cfg.PackageID,
		module:     cfg.ModuleName,
		registryID: cfg.RegistryObjectID,
		gasBudget:  cfg.GasBudget,
	}
	c.client = resty.New().
		SetBaseURL(cfg.RPCEndpoint).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(maxRetries-1).
		SetRetryWaitTime(wait).
		SetRetryMaxWaitTime(maxRetries*wait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		AddRetryHook(func(resp *resty.Response, err error) {
			if resp == nil || resp.Request == nil {
				return
			}
			fields := map[string]string{"attempt": strconv.Itoa(resp.Request.Attempt)}
			if err != nil {
				fields["error"] = err.Error()
			}
			c.logger.Error("[chainrpc][retry]", fields)
		})
	return c
}

func (c *ChainRPC) RelayerAddress() string {
	return c.signer.Address()
}

func (c *ChainRPC) call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	var rpcResp rpcResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params}).
		SetResult(&rpcResp).
		Post("")
	if err != nil {
		c.logger.Error("["+method+"][client.Post]", map[string]string{
			"error": err.Error(),
		})
		return errors.Wrapf(err, "%s request failed", method)
	}
	if resp.IsError() {
		c.logger.Error("["+method+"][client.Post]", map[string]string{
			"statusCode": strconv.Itoa(resp.StatusCode()),
		})
		return fmt.Errorf("%s: unexpected status code: %d", method, resp.StatusCode())
	}
	if rpcResp.Error != nil {
		c.logger.Error("["+method+"] rpc error", map[string]string{
			"code":  strconv.Itoa(rpcResp.Error.Code),
			"error": rpcResp.Error.Message,
		})
		return errors.Wrap(rpcResp.Error, method)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return errors.Wrapf(err, "%s: failed to decode result", method)
	}
	return nil
}

// QueryEvents returns one ascending page of events of the given move event type,
// starting after cursor (nil means from the beginning).
func (c *ChainRPC) QueryEvents(ctx context.Context, eventType string, cursor *EventID, limit int) (*EventPage, error) {
	filter := map[string]string{"MoveEventType": eventType}
	var page EventPage
	if err := c.call(ctx, "suix_queryEvents", &page, filter, cursor, limit, false); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *ChainRPC) collateralType() string {
	return fmt.Sprintf("%s::%s::%s", c.packageID, c.module, consts.CollateralProofStruct)
}

// GetCollateralObject walks the owner's objects and returns the first collateral proof,
// or nil when the owner has none.
func (c *ChainRPC) GetCollateralObject(ctx context.Context, owner string) (*CollateralObject, error) {
	owner, err := NormalizeAddress(owner)
	if err != nil {
		return nil, err
	}

	wantType := c.collateralType()
	query := map[string]interface{}{
		"filter":  map[string]string{"StructType": wantType},
		"options": map[string]bool{"showType": true},
	}

	var cursor *string
	for {
		var page ownedObjectsPage
		if err := c.call(ctx, "suix_getOwnedObjects", &page, owner, query, cursor, ownedPageLimit); err != nil {
			return nil, err
		}
		for _, item := range page.Data {
			if item.Data != nil && sameType(item.Data.Type, wantType) {
				return item.Data, nil
			}
		}
		if !page.HasNextPage || page.NextCursor == nil {
			return nil, nil
		}
		cursor = page.NextCursor
	}
}

// sameType compares struct tags ignoring zero padding differences in the package address.
func sameType(got, want string) bool {
	gp, grest, ok1 := strings.Cut(got, "::")
	wp, wrest, ok2 := strings.Cut(want, "::")
	if !ok1 || !ok2 || grest != wrest {
		return false
	}
	ga, err1 := NormalizeAddress(gp)
	wa, err2 := NormalizeAddress(wp)
	return err1 == nil && err2 == nil && ga == wa
}

func (c *ChainRPC) CreateCollateralProof(ctx context.Context, owner string) (*TxResult, error) {
	owner, err := NormalizeAddress(owner)
	if err != nil {
		return nil, err
	}
	return c.moveCall(ctx, fnCreateCollateralProof, []interface{}{c.registryID, owner})
}

func (c *ChainRPC) AttestDeposit(ctx context.Context, objectID string, amountSats int64, btcTxHash string) (*TxResult, error) {
	if amountSats <= 0 {
		return nil, fmt.Errorf("invalid attest amount %d", amountSats)
	}
	args := []interface{}{c.registryID, objectID, strconv.FormatInt(amountSats, 10), btcTxHash}
	return c.moveCall(ctx, fnAttestDeposit, args)
}

func (c *ChainRPC) moveCall(ctx context.Context, function string, args []interface{}) (*TxResult, error) {
	var built moveCallResult
	err := c.call(ctx, "unsafe_moveCall", &built,
		c.signer.Address(),
		c.packageID,
		c.module,
		function,
		[]string{},
		args,
		nil,
		strconv.FormatInt(c.gasBudget, 10),
	)
	if err != nil {
		return nil, err
	}

	txBytes, err := base64.StdEncoding.DecodeString(built.TxBytes)
	if err != nil {
		return nil, errors.Wrap(err, "invalid tx bytes from node")
	}

	var executed executeResult
	err = c.call(ctx, "sui_executeTransactionBlock", &executed,
		built.TxBytes,
		[]string{c.signer.SignTransaction(txBytes)},
		map[string]bool{"showEffects": true, "showObjectChanges": true},
		"WaitForLocalExecution",
	)
	if err != nil {
		return nil, err
	}

	if status := executed.Effects.Status.Status; status != "" && status != "success" {
		c.logger.Error("[moveCall][sui_executeTransactionBlock]", map[string]string{
			"function": function,
			"digest":   executed.Digest,
			"error":    executed.Effects.Status.Error,
		})
		return nil, errors.Wrapf(ErrTransactionFailed, "%s: %s", function, executed.Effects.Status.Error)
	}

	result := &TxResult{Digest: executed.Digest}
	for _, change := range executed.ObjectChanges {
		if change.Type != "created" {
			continue
		}
		result.CreatedObjects = append(result.CreatedObjects, change.ObjectID)
		if sameType(change.ObjectType, c.collateralType()) {
			result.CollateralObjectID = change.ObjectID
		}
	}

	c.logger.Info("[moveCall] executed", map[string]string{
		"function": function,
		"digest":   executed.Digest,
	})
	return result, nil
}

func (c *ChainRPC) LatestCheckpoint(ctx context.Context) (int64, error) {
	var seq string
	if err := c.call(ctx, "sui_getLatestCheckpointSequenceNumber", &seq); err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "failed to parse checkpoint")
	}
	return n, nil
}
