package blockstream

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/dwarvesf/collateral-relayer/internal/utils/config"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
)

const maxRetries = 3

var minFeeRegex = regexp.MustCompile(`min relay fee not met, (\d+) < (\d+)`)

type blockstream struct {
	client *resty.Client
	logger *logger.Logger
}

func New(cfg *config.AppConfig, logger *logger.Logger) IBlockStream {
	return newWithRetryWait(cfg.Bitcoin.BlockstreamAPIURL, logger, time.Second)
}

func newWithRetryWait(baseURL string, logger *logger.Logger, wait time.Duration) *blockstream {
	c := &blockstream{logger: logger}
	c.client = resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30 * time.Second).
		SetRetryCount(maxRetries - 1).
		SetRetryWaitTime(wait).
		SetRetryMaxWaitTime(maxRetries * wait).
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
			} else {
				fields["statusCode"] = strconv.Itoa(resp.StatusCode())
			}
			c.logger.Error("[blockstream][retry] "+resp.Request.URL, fields)
		})
	return c
}

func (c *blockstream) get(ctx context.Context, op, path string, out interface{}) (*resty.Response, error) {
	req := c.client.R().SetContext(ctx)
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Get(path)
	if err != nil {
		c.logger.Error("["+op+"][client.Get]", map[string]string{
			"error": err.Error(),
			"path":  path,
		})
		return nil, errors.Wrapf(err, "%s request failed", op)
	}
	if resp.IsError() {
		c.logger.Error("["+op+"][client.Get]", map[string]string{
			"statusCode": strconv.Itoa(resp.StatusCode()),
			"path":       path,
		})
		return resp, fmt.Errorf("%s: unexpected status code: %d", op, resp.StatusCode())
	}
	return resp, nil
}

func (c *blockstream) BroadcastTx(ctx context.Context, txHex string) (string, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		SetBody(txHex).
		Post("/tx")
	if err != nil {
		c.logger.Error("[BroadcastTx][client.Post]", map[string]string{
			"error": err.Error(),
		})
		return "", errors.Wrap(err, "failed to request broadcast transaction")
	}

	if resp.StatusCode() != http.StatusOK {
		bodyStr := resp.String()
		c.logger.Error("[BroadcastTx] broadcast error", map[string]string{
			"error":      bodyStr,
			"statusCode": strconv.Itoa(resp.StatusCode()),
		})

		bErr := &BroadcastTxError{
			Message:    bodyStr,
			StatusCode: resp.StatusCode(),
		}
		if matches := minFeeRegex.FindStringSubmatch(bodyStr); len(matches) == 3 {
			bErr.MinFee, _ = strconv.ParseInt(matches[2], 10, 64)
		}
		return "", bErr
	}

	return strings.TrimSpace(resp.String()), nil
}

// EstimateFees returns confirmation targets (in blocks) mapped to sat/vB, e.g. {"1": 25.0, "6": 10.0}.
func (c *blockstream) EstimateFees(ctx context.Context) (map[string]float64, error) {
	var fees map[string]float64
	if _, err := c.get(ctx, "EstimateFees", "/fee-estimates", &fees); err != nil {
		return nil, err
	}
	return fees, nil
}

func (c *blockstream) GetUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var utxos []UTXO
	if _, err := c.get(ctx, "GetUTXOs", "/address/"+address+"/utxo", &utxos); err != nil {
		return nil, err
	}
	return utxos, nil
}

func (c *blockstream) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	var tx Transaction
	resp, err := c.get(ctx, "GetTransaction", "/tx/"+txID, &tx)
	if err != nil {
		if resp != nil && (resp.StatusCode() == http.StatusNotFound || resp.StatusCode() == http.StatusBadRequest) {
			return nil, errors.Wrap(ErrTxNotFound, txID)
		}
		return nil, err
	}
	return &tx, nil
}

func (c *blockstream) GetTransactionHex(ctx context.Context, txID string) (string, error) {
	resp, err := c.get(ctx, "GetTransactionHex", "/tx/"+txID+"/hex", nil)
	if err != nil {
		if resp != nil && resp.StatusCode() == http.StatusNotFound {
			return "", errors.Wrap(ErrTxNotFound, txID)
		}
		return "", err
	}
	return strings.TrimSpace(resp.String()), nil
}

func (c *blockstream) GetTipHeight(ctx context.Context) (int64, error) {
	resp, err := c.get(ctx, "GetTipHeight", "/blocks/tip/height", nil)
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(resp.String()), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "failed to parse tip height")
	}
	return height, nil
}
