// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/ADML003/Nexus-AgentHack/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	if err := server.Run(); err != nil {
		log.Fatalf("Server exited: %v", err)
	}
}
