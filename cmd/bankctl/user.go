package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"demobank/core"
)

// NewUserCmd creates the user command group.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage bank users",
	}

	var generate bool
	create := &cobra.Command{
		Use:   "create <username>",
		Short: "Register a user in the postgres user store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.UserStore != core.StorePostgres {
				return oops.Code("CONFIG_INVALID").Errorf("user create needs USER_STORE=postgres")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			db, err := core.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			return createUser(ctx, cmd, cfg, core.NewPgUserRepository(db), args[0], generate)
		},
	}
	create.Flags().BoolVar(&generate, "generate-password", false, "generate a random password and print it")
	cmd.AddCommand(create)

	return cmd
}

func createUser(ctx context.Context, cmd *cobra.Command, cfg core.Config, repo core.UserRepository, username string, generate bool) error {
	hasher, err := core.NewPasswordHasher(cfg)
	if err != nil {
		return err
	}
	// Registration never touches sessions.
	auth := core.NewRepositoryAuthService(core.AuthDeps{
		Users:             repo,
		Hasher:            hasher,
		PasswordMinLength: cfg.PasswordMinLength,
	})

	var password string
	if generate {
		if password, err = core.GeneratePassword(20); err != nil {
			return err
		}
	} else if password, err = readPassword(cmd, "Password: "); err != nil {
		return err
	}

	user, err := auth.Register(ctx, username, password)
	if err != nil {
		return err
	}
	cmd.Printf("created user id=%d username=%s\n", user.ID, user.Username)
	if generate {
		cmd.Printf("password: %s\n", password)
	}
	return nil
}
