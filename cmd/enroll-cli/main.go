package main

import (
	"context"

	"enrollassist-backend/cmd/enroll-cli/commands"
	"enrollassist-backend/internal/components/configutil"
	"enrollassist-backend/internal/components/telemetry"
	"enrollassist-backend/internal/serviceutil"
)

func main() {
	err := configutil.LoadDotenv(".env")
	if err != nil {
		serviceutil.Fatal("failed to load .env", err)
	}
	telemetry.InitSlog(false)
	commands.ExecuteContext(context.Background())
}
