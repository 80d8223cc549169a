package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"fundlink/internal/fundapi"
	"fundlink/internal/storage/pg"
	"fundlink/internal/worker"
)

const TaskCheckTx = "tx:check"

type checkTxPayload struct {
	TxHash string `json:"tx_hash"`
}

// ReconInit runs the reconciliation process: a cron sweep enqueues one check
// task per in-flight transaction, asynq workers reconcile them against
// Horizon, and a worker pool expires abandoned pending records.
func ReconInit() {
	ConfigLoad()
	AppRecon = fundapi.InitRecon(GlobalConfig.ReconcileConcurrency)
	svc := fundapi.NewTransactionService(pg.New(AppRecon.Db), AppRecon.Ledger, AppRecon.Rdb, AppRecon.Db)
	if GlobalConfig.ExpireMinutes > 0 {
		svc.ExpireAfter = time.Duration(GlobalConfig.ExpireMinutes) * time.Minute
	}
	AppRecon.Svc = svc

	pool := worker.NewPool(GlobalConfig.WorkerSpeed, GlobalConfig.WorkerQueue)
	defer pool.Close()

	sched := cron.New()
	_, err := sched.AddFunc(GlobalConfig.CronSpec, func() {
		sweep(AppRecon, pool)
	})
	if err != nil {
		log.Fatal("Bad cron spec: ", err)
	}
	sched.Start()
	defer sched.Stop()

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskCheckTx, handleCheckTx)
	fmt.Println("[ Fundlink Reconciler is up, sweep:", GlobalConfig.CronSpec, "]")
	Logger.Info("Reconciler started")
	if err := AppRecon.Aqs.Run(mux); err != nil {
		log.Fatal("Failed to run reconciler: ", err)
	}
}

// sweep enqueues a check task for every non-terminal record that carries a
// hash. The task id is the hash itself, so a hash already queued is not
// queued twice.
func sweep(app *fundapi.AppRecon, pool *worker.Pool) {
	for _, status := range []fundapi.TxStatus{fundapi.StatusPending, fundapi.StatusSubmitted, fundapi.StatusConfirming} {
		for page := 1; ; page++ {
			recs, _, err := app.Svc.TransactionsByStatus(context.Background(), status, page, fundapi.MaxListLimit)
			if err != nil {
				Logger.Error(fmt.Sprintf("sweep list %s: %v", status, err))
				break
			}
			for i := range recs {
				if recs[i].TxHash == "" {
					continue
				}
				payload, _ := json.Marshal(checkTxPayload{TxHash: recs[i].TxHash})
				_, err := app.Aqc.Enqueue(
					asynq.NewTask(TaskCheckTx, payload),
					asynq.Queue(fundapi.ReconcileQueue),
					asynq.TaskID(recs[i].TxHash),
					asynq.MaxRetry(3),
				)
				if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
					Logger.Error(fmt.Sprintf("enqueue check for %s: %v", recs[i].TxHash, err))
				}
			}
			if len(recs) < fundapi.MaxListLimit {
				break
			}
		}
	}
	pool.Exec(expireTask{app: app})
}

func handleCheckTx(ctx context.Context, t *asynq.Task) error {
	var payload checkTxPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("bad payload: %v", err)
	}
	// Short-lived guard so a donor-facing poll and this worker do not both
	// hit Horizon for the same hash
	ok, _ := AppRecon.Rdb.SetNX(ctx, "checking_"+payload.TxHash, "y", 30*time.Second).Result()
	if !ok {
		return nil
	}
	defer AppRecon.Rdb.Del(context.Background(), "checking_"+payload.TxHash)
	_, err := AppRecon.Svc.CheckTransactionStatus(ctx, payload.TxHash)
	if err != nil {
		if errors.Is(err, fundapi.ErrNetwork) {
			return err // asynq retries transport failures
		}
		Logger.Error(fmt.Sprintf("check %s: %v", payload.TxHash, err))
	}
	return nil
}

type expireTask struct {
	app *fundapi.AppRecon
}

func (t expireTask) Execute() {
	n, err := t.app.Svc.ExpireStalePending(context.Background())
	if err != nil {
		Logger.Error(fmt.Sprintf("expire sweep: %v", err))
		return
	}
	if n > 0 {
		fmt.Println("[[Expire]] Moved", n, "stale pending transactions to expired")
	}
}
