package fundapi

import (
	"context"
	"encoding/json"
	"os"
	"strconv"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"fundlink/internal/stellar"
)

// ReconcileQueue is the asynq queue the check tasks go through.
const ReconcileQueue = "reconcile"

// App bundles the handles every API request needs. Svc is wired by the
// server package once the postgres store exists.
type App struct {
	Ledger LedgerClient
	Rdb    *redis.Client
	Db     *gorm.DB
	Aqc    *asynq.Client
	Aqi    *asynq.Inspector
	Svc    *TransactionService
}

type AppConfig struct {
	Settings      AppSettings `json:"settings"`
	XlmUsdRate    float64     `json:"xlm_usd_rate"`
	NativeAsset   string      `json:"native_asset"`
	ExpireMinutes int         `json:"expire_minutes"`
}

type AppSettings struct {
	Limits SettingLimit `json:"limits"`
}

type SettingLimit struct {
	DonationMin float64 `json:"donation_min"`
	DonationMax float64 `json:"donation_max"`
	GoalMax     float64 `json:"goal_max"`
}

var (
	DefaultAppConfig *AppConfig
	CurrentAppConfig *AppConfig
)

func Init() *App {
	loadEnv()
	redisClient := setupRedis()
	db := setupDb()
	asynqClient := setupAsynqClient()
	asynqInspector := setupAsynqInspector()
	ledger := stellar.New(os.Getenv("HORIZON_URL"))

	DefaultAppConfig = &AppConfig{
		Settings: AppSettings{
			Limits: SettingLimit{
				DonationMin: 1,
				DonationMax: 100000,
				GoalMax:     10000000,
			},
		},
		XlmUsdRate:    0.1,
		NativeAsset:   "XLM",
		ExpireMinutes: 5,
	}

	app := &App{
		Ledger: ledger,
		Rdb:    redisClient,
		Db:     db,
		Aqc:    asynqClient,
		Aqi:    asynqInspector,
	}
	loadAppConfig(app.Rdb)
	return app
}

// AppRecon is the handle bundle of the reconciliation process.
type AppRecon struct {
	Ledger LedgerClient
	Rdb    *redis.Client
	Db     *gorm.DB
	Aqc    *asynq.Client
	Aqs    *asynq.Server
	Svc    *TransactionService
}

func InitRecon(concurrency int) *AppRecon {
	loadEnv()
	redisClient := setupRedis()
	db := setupDb()
	ledger := stellar.New(os.Getenv("HORIZON_URL"))
	app := &AppRecon{
		Ledger: ledger,
		Rdb:    redisClient,
		Db:     db,
		Aqc:    setupAsynqClient(),
		Aqs:    setupAsynqServer(concurrency),
	}
	loadAppConfig(app.Rdb)
	return app
}

func loadAppConfig(rdb *redis.Client) {
	isSet := false
	appConfigRaw, _ := rdb.Get(context.Background(), "app_config").Result()
	if len(appConfigRaw) > 0 {
		err := json.Unmarshal([]byte(appConfigRaw), &CurrentAppConfig)
		if err != nil {
		} else {
			isSet = true
		}
	}
	if !isSet {
		CurrentAppConfig = DefaultAppConfig
		currentConfig, _ := json.Marshal(DefaultAppConfig)
		rdb.Set(context.Background(), "app_config", currentConfig, 0)
	}
}

func setupRedis() *redis.Client {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})
	return redisClient
}

func setupDb() *gorm.DB {
	dsn := os.Getenv("DB_DSN")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		panic("failed to connect to the db")
	}
	err = db.AutoMigrate(
		&Donor{},
		&Campaign{},
		&Donation{},
		&TransactionRecord{},
		&StatusEntry{},
	)
	if err != nil {
		panic("failed to run migrations")
	}
	// Hash uniqueness is enforced by the database, not just the create-time
	// lookup: pending records may share the empty hash, everything else may
	// not collide.
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_transaction_records_tx_hash ON transaction_records (tx_hash) WHERE tx_hash <> ''")

	return db
}

func setupAsynqClient() *asynq.Client {
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	return asynqClient
}

func setupAsynqInspector() *asynq.Inspector {
	asynqInspector := asynq.NewInspector(asynq.RedisClientOpt{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	return asynqInspector
}

func setupAsynqServer(concurrency int) *asynq.Server {
	if concurrency < 1 {
		concurrency, _ = strconv.Atoi(os.Getenv("RECONCILE_SCALE"))
		if concurrency < 1 {
			concurrency = 10
		}
	}
	asynqServer := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				ReconcileQueue: 1,
			},
		},
	)
	return asynqServer
}

func loadEnv() {
	env := os.Getenv("APP_ENV")
	if "" == env {
		env = "development"
	}

	godotenv.Load(".env." + env + ".local")

	if "test" != env {
		godotenv.Load(".env.local")
	}
	godotenv.Load(".env." + env)
	godotenv.Load()
}
