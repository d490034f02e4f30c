package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"dhfinance/models"
	"dhfinance/pkg/auth"
	"dhfinance/pkg/config"
	"dhfinance/pkg/logging"
	"dhfinance/pkg/store"
)

func main() {
	role := flag.String("role", models.RoleUser, "role for the new user (user or administrator)")
	email := flag.String("email", "", "optional email address")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: go run ./cmd/create_user [-role user] [-email addr] <username> <password>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}
	username, password := flag.Arg(0), flag.Arg(1)

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel, nil)

	ctx := context.Background()
	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.DBDriver,
		DSN:         cfg.DBDSN,
		SQLitePath:  cfg.SQLitePath,
		AutoMigrate: cfg.DBAutoMigrate,
	})
	if err != nil {
		logger.Error("failed to open store", logging.FieldError, err)
		os.Exit(1)
	}
	defer st.Close()

	for _, r := range models.DefaultRoles() {
		if _, err := st.EnsureRole(ctx, r.Name, r.Description); err != nil {
			logger.Error("failed to ensure role", "role", r.Name, logging.FieldError, err)
			os.Exit(1)
		}
	}

	svc := auth.NewService(st, auth.Options{Secret: cfg.JWTSecret})
	u, created, err := svc.EnsureUser(ctx, username, password, *email, *role)
	if err != nil {
		logger.Error("failed to create user", logging.FieldError, err)
		os.Exit(1)
	}
	if !created {
		fmt.Printf("user %s already exists (id=%d)\n", u.Username, u.ID)
		return
	}
	fmt.Printf("created user %s id=%d role=%s\n", u.Username, u.ID, *role)
}
