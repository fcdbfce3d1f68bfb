package transaction_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dwarvesf/collateral-relayer/internal/handler/transaction"
	"github.com/dwarvesf/collateral-relayer/internal/model"
	"github.com/dwarvesf/collateral-relayer/internal/store/storetest"
	"github.com/dwarvesf/collateral-relayer/internal/store/transactionrecord"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
	"github.com/dwarvesf/collateral-relayer/internal/view"
)

const paddedUser = "0x0000000000000000000000000000000000000000000000000000000000000abc"

func router(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := transaction.NewTransactionHandler(db, transactionrecord.New(), nil, logger.NewNop())
	r := gin.New()
	r.GET("/transaction/:id", h.GetTransaction)
	r.GET("/transactions", h.GetTransactions)
	r.GET("/withdrawals/:chainAddress", h.GetWithdrawals)
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func seed(t *testing.T, db *gorm.DB, kind model.RecordKind, address string, createdAt time.Time) *model.TransactionRecord {
	t.Helper()
	rec := &model.TransactionRecord{
		Kind:         kind,
		Status:       model.RecordStatusProcessing,
		ChainAddress: address,
		CreatedAt:    createdAt,
	}
	if kind == model.RecordKindWithdrawal {
		id := uuid.NewString()
		rec.SourceEventID = &id
		rec.Attesters = "relayer-1"
	}
	_, err := transactionrecord.New().Create(db, rec)
	require.NoError(t, err)
	return rec
}

func TestTransactionHandler(t *testing.T) {
	db, cleanup := storetest.SetupTestDB(t)
	defer cleanup()
	r := router(db)

	t.Run("get by id", func(t *testing.T) {
		storetest.Truncate(t, db)
		rec := seed(t, db, model.RecordKindWithdrawal, paddedUser, time.Now())

		w := get(r, "/transaction/"+rec.ID)
		require.Equal(t, http.StatusOK, w.Code)
		var res view.Response[model.TransactionRecord]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, rec.ID, res.Data.ID)
		assert.Equal(t, model.RecordKindWithdrawal, res.Data.Kind)
		assert.NotContains(t, w.Body.String(), "relayer-1")
	})

	t.Run("unknown and malformed ids are not found", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get(r, "/transaction/"+uuid.NewString()).Code)
		assert.Equal(t, http.StatusNotFound, get(r, "/transaction/not-a-uuid").Code)
	})

	t.Run("list is paginated newest first", func(t *testing.T) {
		storetest.Truncate(t, db)
		base := time.Now().Add(-time.Hour)
		var ids []string
		for n := 0; n < 5; n++ {
			ids = append(ids, seed(t, db, model.RecordKindDeposit, paddedUser, base.Add(time.Duration(n)*time.Minute)).ID)
		}

		w := get(r, "/transactions?page=2&limit=2")
		require.Equal(t, http.StatusOK, w.Code)
		var res view.Response[transaction.GetTransactionsResponse]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, int64(5), res.Data.Total)
		assert.Equal(t, 2, res.Data.Page)
		assert.Equal(t, 2, res.Data.Limit)
		assert.Equal(t, 3, res.Data.Pages)
		require.Len(t, res.Data.Transactions, 2)
		assert.Equal(t, ids[2], res.Data.Transactions[0].ID)
		assert.Equal(t, ids[1], res.Data.Transactions[1].ID)
	})

	t.Run("list defaults and bad params", func(t *testing.T) {
		storetest.Truncate(t, db)
		w := get(r, "/transactions")
		require.Equal(t, http.StatusOK, w.Code)
		var res view.Response[transaction.GetTransactionsResponse]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, 1, res.Data.Page)
		assert.Equal(t, 20, res.Data.Limit)
		assert.NotNil(t, res.Data.Transactions)

		assert.Equal(t, http.StatusBadRequest, get(r, "/transactions?page=abc").Code)
	})

	t.Run("withdrawals returns the latest ten for the address", func(t *testing.T) {
		storetest.Truncate(t, db)
		base := time.Now().Add(-time.Hour)
		for n := 0; n < 12; n++ {
			seed(t, db, model.RecordKindWithdrawal, paddedUser, base.Add(time.Duration(n)*time.Minute))
		}
		seed(t, db, model.RecordKindDeposit, paddedUser, time.Now())
		seed(t, db, model.RecordKindWithdrawal, "0x"+fmt.Sprintf("%064x", 7), time.Now())

		w := get(r, "/withdrawals/0xABC")
		require.Equal(t, http.StatusOK, w.Code)
		var res view.Response[[]model.TransactionRecord]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.Len(t, res.Data, 10)
		for _, rec := range res.Data {
			assert.Equal(t, model.RecordKindWithdrawal, rec.Kind)
			assert.Equal(t, paddedUser, rec.ChainAddress)
		}
		assert.True(t, res.Data[0].CreatedAt.After(res.Data[9].CreatedAt))
	})

	t.Run("withdrawals rejects a malformed address", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, get(r, "/withdrawals/0xzz").Code)
	})
}
