package btcrpc

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dwarvesf/collateral-relayer/internal/btcrpc/blockstream"
	"github.com/dwarvesf/collateral-relayer/internal/utils/config"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
)

const testnetReceiver = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"

func utxosOf(values ...int64) []UnspentOutput {
	out := make([]UnspentOutput, 0, len(values))
	for i, v := range values {
		out = append(out, UnspentOutput{TxID: string(rune('a' + i)), Value: v, Confirmed: true})
	}
	return out
}

var _ = Describe("selectUTXOs", func() {
	It("takes outputs in ascending order and stops once the target is covered", func() {
		sel, err := selectUTXOs(utxosOf(50000, 1000, 20000, 3000), 20000, 1, 1000)
		Expect(err).NotTo(HaveOccurred())

		values := []int64{}
		for _, in := range sel.inputs {
			values = append(values, in.Value)
		}
		Expect(values).To(Equal([]int64{1000, 3000, 20000}))
		Expect(sel.total).To(Equal(int64(24000)))
		Expect(sel.fee).To(BeNumerically(">=", calculateTxFee(3, 1)))

		// dropping the last input breaks sufficiency
		withoutLast := sel.total - sel.inputs[len(sel.inputs)-1].Value
		Expect(withoutLast).To(BeNumerically("<", 20000+calculateTxFee(2, 1)+1000))
	})

	It("uses every output when they cover amount and fee but not the safety buffer", func() {
		fee := calculateTxFee(1, 1)
		sel, err := selectUTXOs(utxosOf(10000+fee+10), 10000, 1, 1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(sel.inputs).To(HaveLen(1))
	})

	It("fails with an insufficient balance error when outputs fall short", func() {
		_, err := selectUTXOs(utxosOf(200000, 300000), 600000, 10, 1000)
		Expect(errors.Is(err, ErrInsufficientBalance)).To(BeTrue())

		_, err = selectUTXOs(nil, 1, 10, 0)
		Expect(errors.Is(err, ErrInsufficientBalance)).To(BeTrue())
	})

	DescribeTable("change or absorb at the dust limit",
		func(remainder int64, wantChange int64) {
			fee := calculateTxFee(1, 1)
			sel, err := selectUTXOs(utxosOf(10000+fee+remainder), 10000, 1, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(sel.change).To(Equal(wantChange))
			Expect(sel.total).To(Equal(int64(10000) + sel.fee + sel.change))
		},
		Entry("remainder equal to dust limit is absorbed", int64(546), int64(0)),
		Entry("remainder below dust limit is absorbed", int64(100), int64(0)),
		Entry("remainder above dust limit becomes change", int64(547), int64(547)),
	)

	It("models size as inputs, two outputs and overhead", func() {
		Expect(calculateTxSize(1, 2)).To(Equal(140))
		Expect(calculateTxFee(2, 10)).To(Equal(int64(2080)))
		Expect(calculateTxFee(1, 1.5)).To(Equal(int64(210)))
	})
})

var _ = Describe("BtcRpc", func() {
	var (
		ctx          context.Context
		fake         *fakeBlockstream
		feeOracle    *fakeFeeOracle
		walletScript []byte
		appConfig    *config.AppConfig
		rpc          *BtcRpc
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = &fakeBlockstream{fees: map[string]float64{"6": 5}}
		feeOracle = &fakeFeeOracle{rate: 2}

		var wif string
		wif, walletScript = newTestWIF(&chaincfg.TestNet3Params)
		appConfig = &config.AppConfig{
			Bitcoin: config.BitcoinConfig{
				Network:                 "testnet",
				WalletWIF:               wif,
				DefaultFeeRate:          10,
				UTXOCacheTTL:            time.Minute,
				BalanceSafetyMultiplier: 1.2,
				SafetyBuffer:            1000,
			},
		}
	})

	JustBeforeEach(func() {
		var err error
		rpc, err = New(appConfig, logger.NewNop(), fake, feeOracle)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("New", func() {
		It("rejects a malformed wif", func() {
			appConfig.Bitcoin.WalletWIF = "not-a-wif"
			_, err := New(appConfig, logger.NewNop(), fake, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ValidateAddress", func() {
		It("accepts testnet addresses and rejects others", func() {
			Expect(rpc.ValidateAddress(testnetReceiver)).To(Succeed())
			Expect(rpc.ValidateAddress("mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn")).To(Succeed())
			Expect(rpc.ValidateAddress(rpc.WalletAddress())).To(Succeed())

			err := rpc.ValidateAddress("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4")
			Expect(errors.Is(err, ErrInvalidAddress)).To(BeTrue())
			Expect(errors.Is(rpc.ValidateAddress("hello"), ErrInvalidAddress)).To(BeTrue())
			Expect(errors.Is(rpc.ValidateAddress(""), ErrInvalidAddress)).To(BeTrue())
		})
	})

	Describe("EstimateFeeRate", func() {
		It("prefers the fee oracle", func() {
			Expect(rpc.EstimateFeeRate(ctx)).To(Equal(2.0))
		})

		It("falls back to the explorer estimate and then to the default", func() {
			feeOracle.err = errors.New("oracle down")
			Expect(rpc.EstimateFeeRate(ctx)).To(Equal(5.0))

			fake.feeErr = errors.New("explorer down")
			Expect(rpc.EstimateFeeRate(ctx)).To(Equal(10.0))
		})
	})

	Describe("CurrentBalance", func() {
		It("sums confirmed outputs and serves repeated reads from cache", func() {
			fake.fund(walletScript, 100000, 250000)

			bal, err := rpc.CurrentBalance(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(bal.Value).To(Equal("350000"))
			Expect(bal.Decimal).To(Equal(8))

			_, err = rpc.CurrentBalance(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.calls()).To(Equal(1))
		})

		It("ignores unconfirmed outputs", func() {
			fake.fund(walletScript, 100000)
			fake.utxos[0].Status.Confirmed = false

			bal, err := rpc.CurrentBalance(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(bal.Value).To(Equal("0"))
		})

		It("propagates a fetch failure with an empty cache", func() {
			fake.utxoErr = errors.New("explorer down")
			_, err := rpc.CurrentBalance(ctx)
			Expect(err).To(HaveOccurred())
		})

		Context("with a short cache ttl", func() {
			BeforeEach(func() {
				appConfig.Bitcoin.UTXOCacheTTL = 5 * time.Millisecond
			})

			It("serves the last good set when a refresh fails", func() {
				fake.fund(walletScript, 70000)
				_, err := rpc.CurrentBalance(ctx)
				Expect(err).NotTo(HaveOccurred())

				time.Sleep(20 * time.Millisecond)
				fake.utxoErr = errors.New("explorer down")

				bal, err := rpc.CurrentBalance(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(bal.Value).To(Equal("70000"))
				Expect(fake.calls()).To(Equal(2))
			})
		})
	})

	Describe("Send", func() {
		It("builds, signs and broadcasts a payment with change", func() {
			fake.fund(walletScript, 30000, 400000, 900000)

			txHash, fee, err := rpc.Send(ctx, testnetReceiver, 250000)
			Expect(err).NotTo(HaveOccurred())
			Expect(txHash).NotTo(BeEmpty())

			tx := fake.lastBroadcast()
			Expect(tx).NotTo(BeNil())
			Expect(tx.TxHash().String()).To(Equal(txHash))
			Expect(tx.TxIn).To(HaveLen(2))
			Expect(tx.TxOut).To(HaveLen(2))
			Expect(tx.TxOut[0].Value).To(Equal(int64(250000)))
			Expect(fee).To(Equal(calculateTxFee(2, 2)))
			Expect(tx.TxOut[1].Value).To(Equal(int64(430000) - 250000 - fee))

			fetcher, err := rpc.prevOutputFetcher([]UnspentOutput{
				{TxID: fake.utxos[0].TxID, Value: 30000, RawTx: mustHex(fake.txHex[fake.utxos[0].TxID])},
				{TxID: fake.utxos[1].TxID, Value: 400000, RawTx: mustHex(fake.txHex[fake.utxos[1].TxID])},
			})
			Expect(err).NotTo(HaveOccurred())
			sigHashes := txscript.NewTxSigHashes(tx, fetcher)
			for i, in := range tx.TxIn {
				prev := fetcher.FetchPrevOutput(in.PreviousOutPoint)
				vm, err := txscript.NewEngine(prev.PkScript, tx, i, txscript.StandardVerifyFlags, nil, sigHashes, prev.Value, fetcher)
				Expect(err).NotTo(HaveOccurred())
				Expect(vm.Execute()).To(Succeed())
			}
		})

		It("invalidates the utxo cache after broadcast", func() {
			fake.fund(walletScript, 900000)
			_, _, err := rpc.Send(ctx, testnetReceiver, 100000)
			Expect(err).NotTo(HaveOccurred())

			_, err = rpc.CurrentBalance(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.calls()).To(Equal(2))
		})

		It("refuses when the balance does not cover the amount with margin", func() {
			fake.fund(walletScript, 200000, 300000)

			_, _, err := rpc.Send(ctx, testnetReceiver, 600000)
			Expect(errors.Is(err, ErrInsufficientBalance)).To(BeTrue())
			Expect(fake.lastBroadcast()).To(BeNil())

			_, _, err = rpc.Send(ctx, testnetReceiver, 450000)
			Expect(errors.Is(err, ErrInsufficientBalance)).To(BeTrue())
			Expect(fake.lastBroadcast()).To(BeNil())
		})

		It("signs a payout without broadcasting until asked", func() {
			fake.fund(walletScript, 900000)

			payout, err := rpc.BuildPayout(ctx, testnetReceiver, 100000)
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.lastBroadcast()).To(BeNil())
			Expect(payout.TxHex).NotTo(BeEmpty())
			Expect(payout.Fee).To(Equal(calculateTxFee(1, 2)))

			txHash, err := rpc.BroadcastPayout(ctx, payout)
			Expect(err).NotTo(HaveOccurred())
			Expect(txHash).To(Equal(payout.TxHash))
			Expect(fake.lastBroadcast().TxHash().String()).To(Equal(payout.TxHash))
		})

		It("treats a tx the node already has as broadcast", func() {
			fake.fund(walletScript, 900000)
			payout, err := rpc.BuildPayout(ctx, testnetReceiver, 100000)
			Expect(err).NotTo(HaveOccurred())

			fake.broadcastErr = &blockstream.BroadcastTxError{
				StatusCode: 400,
				Message:    "sendrawtransaction RPC error -27: Transaction already in block chain",
			}
			txHash, err := rpc.BroadcastPayout(ctx, payout)
			Expect(err).NotTo(HaveOccurred())
			Expect(txHash).To(Equal(payout.TxHash))
		})

		It("separates refusals from unknown broadcast outcomes", func() {
			fake.fund(walletScript, 900000)
			payout, err := rpc.BuildPayout(ctx, testnetReceiver, 100000)
			Expect(err).NotTo(HaveOccurred())

			fake.broadcastErr = &blockstream.BroadcastTxError{StatusCode: 400, Message: "bad-txns-inputs-missingorspent"}
			_, err = rpc.BroadcastPayout(ctx, payout)
			Expect(IsBroadcastRejected(err)).To(BeTrue())

			fake.broadcastErr = errors.New("connection reset by peer")
			_, err = rpc.BroadcastPayout(ctx, payout)
			Expect(err).To(HaveOccurred())
			Expect(IsBroadcastRejected(err)).To(BeFalse())
		})

		It("validates inputs before touching the network", func() {
			_, _, err := rpc.Send(ctx, "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", 1000)
			Expect(errors.Is(err, ErrInvalidAddress)).To(BeTrue())

			_, _, err = rpc.Send(ctx, testnetReceiver, 0)
			Expect(errors.Is(err, ErrInvalidAmount)).To(BeTrue())
			Expect(fake.calls()).To(Equal(0))
		})
	})
})
