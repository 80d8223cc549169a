package server

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	Port                 string `json:"port"`
	FileLog              string `json:"fileLog"`
	WorkerSpeed          int    `json:"workerSpeed"`
	WorkerQueue          int    `json:"workerQueue"`
	CronSpec             string `json:"cronSpec"`
	ExpireMinutes        int    `json:"expireMinutes"`
	ReconcileConcurrency int    `json:"reconcileConcurrency"`
}

var GlobalConfig Config
var PathFile string

// ConfigLoad reads the worker config file (second CLI argument, default
// ./config.json) over built-in defaults. A missing file is fine.
func ConfigLoad() {
	PathFile = "./config.json"
	if len(os.Args) > 2 {
		PathFile = os.Args[2]
	}

	GlobalConfig = Config{
		Port:                 ":8000",
		FileLog:              "fundlink.log",
		WorkerSpeed:          4,
		WorkerQueue:          64,
		CronSpec:             "@every 1m",
		ExpireMinutes:        5,
		ReconcileConcurrency: 10,
	}
	configFile, err := os.Open(PathFile)
	if err != nil {
		fmt.Println("No config file, using defaults:", err.Error())
	} else {
		jsonParser := json.NewDecoder(configFile)
		jsonParser.Decode(&GlobalConfig)
		configFile.Close()
	}

	SetLogger(GlobalConfig.FileLog)
}
