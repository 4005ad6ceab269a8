package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/AgustinSRG/rtmp-engine/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Println("[WARNING] Could not load .env file: " + err.Error())
	}

	fmt.Println("RTMP engine (Version 1.0.0)")

	srv, err := server.NewServer()
	if err != nil {
		fmt.Println("[ERROR] " + err.Error())
		os.Exit(1)
	}

	srv.Start()
}
