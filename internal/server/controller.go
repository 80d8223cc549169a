package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"fundlink/internal/api"
	"fundlink/internal/api/middleware"
	"fundlink/internal/fundapi"
	"fundlink/internal/storage/pg"
)

var App *fundapi.App
var AppRecon *fundapi.AppRecon

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func keyFunc(c *gin.Context) string {
	return c.ClientIP()
}

func errorHandler(c *gin.Context, info ratelimit.Info) {
	c.String(429, "Too many requests. Try again in "+time.Until(info.ResetTime).String())
}

func ApiInit() { // Run Api Server
	App = fundapi.Init()
	App.Svc = fundapi.NewTransactionService(pg.New(App.Db), App.Ledger, App.Rdb, App.Db)
	router := gin.Default()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	// This makes it so each ip can only make 100 requests per second
	store := ratelimit.RedisStore(&ratelimit.RedisOptions{
		RedisClient: redis.NewClient(&redis.Options{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       1,
		}),
		Rate:  time.Second,
		Limit: 100,
	})
	mw := ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: errorHandler,
		KeyFunc:      keyFunc,
	})
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://0.0.0.0:3000",
			"http://localhost:3000",
		},
		AllowHeaders:  []string{"Origin", "Access-Control-Allow-Origin", "Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With"},
		ExposeHeaders: []string{"Content-Length"},
		AllowMethods:  []string{"GET, POST, OPTIONS, PUT, DELETE"},
		MaxAge:        24 * time.Hour,
	}))
	router.Use(func(c *gin.Context) {
		c.Set("app", App)
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", mw, wsHandler)
	router.GET("/ws/", mw, wsHandler)
	auth := router.Group("/auth/")
	{
		auth.POST("/signup", mw, api.Signup)
		auth.POST("/signup/", mw, api.Signup)
		auth.POST("/signin", mw, api.Signin)
		auth.POST("/signin/", mw, api.Signin)
	}
	users := router.Group("/users/").Use(middleware.Auth())
	{
		users.GET("/me", mw, api.GetDonor)
		users.GET("/me/", mw, api.GetDonor)
		users.GET("/tx", mw, api.GetDonorTransactions)
		users.GET("/tx/", mw, api.GetDonorTransactions)
	}
	campaigns := router.Group("/campaigns/")
	{
		campaigns.GET("", mw, api.GetCampaignsList)
		campaigns.GET("/:slug", mw, api.GetCampaign)
		campaigns.GET("/:slug/", mw, api.GetCampaign)
	}
	campaignsAuth := router.Group("/campaigns/").Use(middleware.Auth())
	{
		campaignsAuth.POST("", mw, api.CreateCampaign)
		campaignsAuth.PUT("/:slug", mw, api.UpdateCampaign)
		campaignsAuth.PUT("/:slug/", mw, api.UpdateCampaign)
		campaignsAuth.POST("/:slug/donate", mw, api.Donate)
		campaignsAuth.POST("/:slug/donate/", mw, api.Donate)
	}
	tx := router.Group("/transactions/")
	{
		tx.GET("", mw, api.GetTransactionsList)
		tx.GET("/:hash", mw, api.GetTransaction)
		tx.GET("/:hash/", mw, api.GetTransaction)
		tx.POST("/:hash/check", mw, api.CheckTransaction)
		tx.POST("/:hash/check/", mw, api.CheckTransaction)
	}
	txAuth := router.Group("/transactions/").Use(middleware.Auth())
	{
		txAuth.POST("", mw, api.CreateTransaction)
		txAuth.PUT("/:hash", mw, api.OverrideTransaction)
		txAuth.PUT("/:hash/", mw, api.OverrideTransaction)
	}
	admin := router.Group("/admin/").Use(middleware.Auth())
	{
		admin.GET("/queue", mw, api.GetQueueStats)
		admin.GET("/queue/", mw, api.GetQueueStats)
	}
	fmt.Println("[ Fundlink Backend is up and listening to :8000 ]")
	if err := router.Run(":8000"); err != nil {
		log.Fatal("Failed to run Fundlink Backend on :8000: ", err)
	}
}

// wsHandler streams live status updates for one transaction hash. Events
// come in over the redis channel the service publishes to.
func wsHandler(c *gin.Context) {
	hash := c.DefaultQuery("hash", "")
	if hash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "hash query required"})
		return
	}
	app := c.MustGet("app").(*fundapi.App)
	rec, err := app.Svc.GetTransaction(c.Request.Context(), hash)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "unknown transaction"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to set websocket upgrade: %+v", err)
		return
	}
	defer conn.Close()
	lastPong := time.Now()
	conn.SetPongHandler(func(string) error {
		lastPong = time.Now()
		return nil
	})
	pingPeriod := 3 * time.Second
	timeout := 9 * time.Second
	var mu sync.Mutex // Mutex to synchronize writes to the WebSocket connection
	// Send the current state first so the client never misses a transition
	// that happened before it connected
	snapshot, err := json.Marshal(fundapi.TxEvent{Target: "tx_status", Transaction: rec})
	if err == nil {
		if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
			fmt.Println("Socket: Failed to send data:", err)
			return
		}
	}
	// Closing the pubsub when the handler leaves closes Channel(), so the
	// fanout goroutine never outlives the socket. A terminal transaction
	// publishes nothing more, which must not keep the subscription alive.
	pubsub := app.Rdb.Subscribe(c, fmt.Sprintf("tx_ch@%s", hash))
	defer pubsub.Close()
	go func() {
		for msg := range pubsub.Channel() {
			mu.Lock()
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				fmt.Println("Socket: Failed to send data:", err)
				mu.Unlock()
				_ = conn.Close()
				return
			}
			mu.Unlock()
		}
	}()
	go func() {
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	for {
		if time.Since(lastPong) > timeout {
			log.Println("Socket: Client did not respond to ping, closing connection")
			return
		}
		mu.Lock()
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			log.Println("Socket: Failed to send ping:", err)
			mu.Unlock()
			return
		}
		mu.Unlock()
		time.Sleep(pingPeriod)
	}
}
