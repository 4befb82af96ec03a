package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var useraddFlags struct {
	email      string
	password   string
	givenName  string
	familyName string
	admin      bool
	blogger    bool
}

var useraddCmd = &cobra.Command{
	Use:   "useradd",
	Short: "Create an account directly in the database",
	Long: `Create an active account directly in the database, skipping the
registration and email password flow. Intended for bootstrapping the
first administrator.

Examples:
  atrium useradd --email admin@example.com --password secret --admin`,
	RunE: runUseradd,
}

func init() {
	rootCmd.AddCommand(useraddCmd)

	useraddCmd.Flags().StringVar(&useraddFlags.email, "email", "", "email address (required)")
	useraddCmd.Flags().StringVar(&useraddFlags.password, "password", "", "initial password (required)")
	useraddCmd.Flags().StringVar(&useraddFlags.givenName, "given-name", "", "given name")
	useraddCmd.Flags().StringVar(&useraddFlags.familyName, "family-name", "", "family name")
	useraddCmd.Flags().BoolVar(&useraddFlags.admin, "admin", false, "grant administrator rights")
	useraddCmd.Flags().BoolVar(&useraddFlags.blogger, "blogger", false, "authorise the account to blog")
	useraddCmd.MarkFlagRequired("email")
	useraddCmd.MarkFlagRequired("password")
}

func runUseradd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(useraddFlags.password), cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	var id int64
	err = st.InTransaction(cmd.Context(), func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO users (email_address, given_name, family_name, password_hash,
			                   active, authorised_to_blog, admin)
			VALUES (?, ?, ?, ?, 1, ?, ?)`,
			useraddFlags.email,
			orNil(useraddFlags.givenName), orNil(useraddFlags.familyName),
			string(hash), useraddFlags.blogger, useraddFlags.admin)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	fmt.Printf("Created user %d (%s)\n", id, useraddFlags.email)
	return nil
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
