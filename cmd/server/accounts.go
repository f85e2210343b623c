package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"delivery-backend/internal/auth"
	"delivery-backend/internal/db"
	"delivery-backend/internal/models"
	"delivery-backend/internal/repositories"
)

// Accounts are provisioned from the command line; the API has no user
// management surface.

var userFlags struct {
	name     string
	email    string
	password string
	role     string
	branchID int
}

var branchFlags struct {
	name          string
	address       string
	phone         string
	contactPerson string
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		u := &models.User{
			Name:  strings.TrimSpace(userFlags.name),
			Email: strings.ToLower(strings.TrimSpace(userFlags.email)),
			Role:  userFlags.role,
		}
		switch u.Role {
		case models.RoleAdmin, models.RoleWarehouse:
		case models.RoleBranch:
			if userFlags.branchID <= 0 {
				return errors.New("--branch is required for branch users")
			}
			u.BranchID = &userFlags.branchID
		default:
			return errors.Errorf("unknown role %q", u.Role)
		}
		if len(userFlags.password) < 8 {
			return errors.New("password must be at least 8 characters")
		}

		hash, err := auth.HashPassword(userFlags.password)
		if err != nil {
			return err
		}
		u.PasswordHash = hash

		gw := db.NewGateway(cfg, log)
		defer gw.Close()
		if err := repositories.NewUserRepository(gw).Create(cmd.Context(), u); err != nil {
			return err
		}
		log.WithField("user_id", u.ID).WithField("role", u.Role).Info("[Accounts] User created")
		return nil
	},
}

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Manage branches",
}

var branchAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		b := &models.Branch{
			Name:          strings.TrimSpace(branchFlags.name),
			Address:       branchFlags.address,
			Phone:         branchFlags.phone,
			ContactPerson: branchFlags.contactPerson,
		}
		gw := db.NewGateway(cfg, log)
		defer gw.Close()
		if err := repositories.NewBranchRepository(gw).Create(cmd.Context(), b); err != nil {
			return err
		}
		log.WithField("branch_id", b.ID).Info("[Accounts] Branch created")
		return nil
	},
}

var branchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List branches",
	RunE: func(cmd *cobra.Command, args []string) error {
		gw := db.NewGateway(cfg, log)
		defer gw.Close()
		branches, err := repositories.NewBranchRepository(gw).List(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCONTACT")
		for _, b := range branches {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", b.ID, b.Name, b.ContactPerson)
		}
		return tw.Flush()
	},
}

func init() {
	f := userAddCmd.Flags()
	f.StringVar(&userFlags.name, "name", "", "display name")
	f.StringVar(&userFlags.email, "email", "", "login email")
	f.StringVar(&userFlags.password, "password", "", "initial password")
	f.StringVar(&userFlags.role, "role", models.RoleBranch, "admin, warehouse or branch")
	f.IntVar(&userFlags.branchID, "branch", 0, "branch id (branch users only)")
	for _, name := range []string{"name", "email", "password"} {
		userAddCmd.MarkFlagRequired(name)
	}
	userCmd.AddCommand(userAddCmd)

	bf := branchAddCmd.Flags()
	bf.StringVar(&branchFlags.name, "name", "", "branch name")
	bf.StringVar(&branchFlags.address, "address", "", "street address")
	bf.StringVar(&branchFlags.phone, "phone", "", "contact phone")
	bf.StringVar(&branchFlags.contactPerson, "contact", "", "contact person")
	branchAddCmd.MarkFlagRequired("name")
	branchCmd.AddCommand(branchAddCmd, branchListCmd)

	rootCmd.AddCommand(userCmd, branchCmd)
}
