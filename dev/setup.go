package main

import (
	"context"
	"fmt"
	"os"

	devenv "enrollassist-backend/dev/env"
	"enrollassist-backend/internal/activation"
	"enrollassist-backend/internal/components/recordstore"
	"enrollassist-backend/internal/components/telemetry"
)

const recordsDB = "<dev_state>/records.db"

// CreateRecordsDB creates the local record store and seeds it with an
// unlimited activation code so the server can be used right away.
func CreateRecordsDB() error {
	path, err := devenv.ResolvePath(recordsDB)
	if err != nil {
		return err
	}
	_, err = os.Stat(path)
	if err == nil {
		fmt.Println("database already created at", path)
		return nil
	}

	fmt.Println("creating database at", path)
	db, err := recordstore.Config{File: recordsDB}.OpenDB()
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := recordstore.New(ctx, db)
	if err != nil {
		db.Close()
		return err
	}
	defer store.Close()

	codes, err := activation.NewGate(store, telemetry.NoopAPI{}).
		Generate(ctx, 1, activation.Unlimited, "dev")
	if err != nil {
		return err
	}
	fmt.Println("dev activation code:", codes[0].Code)
	return nil
}

func PrintConfigLocations() {
	root, err := devenv.GetWorkspaceRoot()
	if err != nil {
		return
	}
	fmt.Println("config locations:")
	fmt.Printf("\t%s/cmd/enroll-server/config.json5 (see config.example.json5)\n", root)
	fmt.Printf("\t%s/.env (ENROLL_ADMIN_TOKEN, ENROLL_SMTP_PASSWORD, ENROLL_DB_AUTH_TOKEN)\n", root)
}
