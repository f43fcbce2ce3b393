package main

import (
	"github.com/joho/godotenv"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/cli"
)

func main() {
	// .env is optional; deployments set the environment directly.
	_ = godotenv.Load()
	cli.Execute()
}
