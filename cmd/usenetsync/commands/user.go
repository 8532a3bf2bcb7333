package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usenetsync/usenetsync/pkg/api/service"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userEmail string

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a user with fresh key pairs",
	Long: `Create a user: an Ed25519 signing pair and an X25519 exchange pair are
generated, the private halves sealed into the keystore, and a one-time
API key printed. The key is shown exactly once; only its hash is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Args:  cobra.NoArgs,
	RunE:  runUserList,
}

func init() {
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Email address")
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.close()

	created, err := eng.svc.CreateUser(context.Background(), service.CreateUserParams{
		Username: args[0],
		Email:    userEmail,
	})
	if err != nil {
		return err
	}

	fmt.Printf("User created: %s\n", created.User.DisplayName)
	fmt.Printf("  ID:      %s\n", created.User.ID)
	fmt.Printf("  API key: %s\n", created.APIKey)
	fmt.Println("\nStore the API key now; it cannot be shown again.")
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.close()

	users, err := eng.svc.ListUsers(context.Background(), struct{}{})
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No users.")
		return nil
	}
	for _, u := range users {
		fmt.Printf("%s  %s\n", u.ID, u.DisplayName)
	}
	return nil
}
