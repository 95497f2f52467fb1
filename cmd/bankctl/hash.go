package main

import (
	"github.com/spf13/cobra"

	"demobank/core"
)

// NewHashPasswordCmd creates the hash-password command.
func NewHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin with the configured scheme",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runHashPassword(cmd, cfg)
		},
	}
}

func runHashPassword(cmd *cobra.Command, cfg core.Config) error {
	hasher, err := core.NewPasswordHasher(cfg)
	if err != nil {
		return err
	}
	password, err := readPassword(cmd, "Password: ")
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return err
	}
	cmd.Println(hash)
	return nil
}
