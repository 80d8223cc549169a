package main

import (
	"log"
	"os"

	"fundlink/internal/server"
)

func main() {
	mode := "api"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	switch mode {
	case "api":
		server.ApiInit()
	case "recon":
		server.ReconInit()
	default:
		log.Fatalf("unknown mode %q (want api or recon)", mode)
	}
}
