package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"tls_portal_go/db"
	"tls_portal_go/models"
	"tls_portal_go/services"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if err := db.Migrate(a.db); err != nil {
				return err
			}
			tenant, err := a.clients.EnsureDefaultTenant(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Schema is up to date. Default tenant: %s (%s)\n", tenant.Slug, tenant.ID)
			return nil
		}),
	}
}

func createTenantCmd() *cobra.Command {
	var slug, billingEmail string
	cmd := &cobra.Command{
		Use:   "create-tenant [name]",
		Short: "Create a law firm tenant, or print the existing one with that slug",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			tenant, err := a.clients.CreateTenant(cmd.Context(), strings.TrimSpace(args[0]), slug, billingEmail)
			if err != nil {
				return err
			}
			fmt.Printf("Tenant %s\n  ID: %s\n  Slug: %s\n", tenant.Name, tenant.ID, tenant.Slug)
			return nil
		}),
	}
	cmd.Flags().StringVar(&slug, "slug", "", "tenant slug (generated from the name when empty)")
	cmd.Flags().StringVar(&billingEmail, "billing-email", "", "billing contact email")
	return cmd
}

// readPassword prompts twice without echoing input
func readPassword() (string, error) {
	fmt.Print("Password: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}

func createStaffCmd() *cobra.Command {
	var tenantSlug, role string
	cmd := &cobra.Command{
		Use:   "create-staff",
		Short: "Create a staff or admin login for a tenant",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			tenant, err := a.clients.TenantBySlug(ctx, tenantSlug)
			if err != nil {
				return err
			}

			reader := bufio.NewReader(os.Stdin)
			fmt.Printf("=== Create %s for %s ===\n\n", role, tenant.Name)
			fmt.Print("Name: ")
			name, _ := reader.ReadString('\n')
			fmt.Print("Email: ")
			email, _ := reader.ReadString('\n')

			password, err := readPassword()
			if err != nil {
				return err
			}

			identity, err := services.CreateStaffMember(ctx, a.db, a.auth, services.NewStaffMember{
				TenantID:    tenant.ID,
				Email:       email,
				DisplayName: name,
				Password:    password,
				Role:        role,
			})
			if err != nil {
				return err
			}

			fmt.Println()
			fmt.Println("✓ User created successfully!")
			fmt.Printf("  ID: %s\n", identity.ID)
			fmt.Printf("  Email: %s\n", identity.Email)
			fmt.Printf("  Role: %s\n", role)
			return nil
		}),
	}
	cmd.Flags().StringVar(&tenantSlug, "tenant", "", "tenant slug (defaults to DEFAULT_TENANT_SLUG)")
	cmd.Flags().StringVar(&role, "role", models.RoleStaff, "staff or admin")
	return cmd
}

func checkSubdomainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-subdomain [subdomain]",
		Short: "Report whether a portal subdomain is free",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			available, err := a.clients.CheckSubdomainAvailability(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if available {
				fmt.Printf("%s is available\n", args[0])
				return nil
			}
			fmt.Printf("%s is taken\n", args[0])
			return nil
		}),
	}
}

func reprovisionCmd() *cobra.Command {
	var stuck bool
	var minAge time.Duration
	cmd := &cobra.Command{
		Use:   "reprovision [client-id]",
		Short: "Re-run portal provisioning for one client, or for every stuck portal",
		Args: func(cmd *cobra.Command, args []string) error {
			if stuck {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			if stuck {
				n, err := a.provisioner.RetryStuck(ctx, minAge, 500)
				fmt.Printf("Retried %d stuck portals\n", n)
				return err
			}
			if err := a.provisioner.Provision(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Portal provisioned for client %s\n", args[0])
			return nil
		}),
	}
	cmd.Flags().BoolVar(&stuck, "stuck", false, "retry every pending or failed portal")
	cmd.Flags().DurationVar(&minAge, "min-age", 10*time.Minute, "only retry portals untouched for this long")
	return cmd
}

func exportCmd() *cobra.Command {
	var tenantSlug, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a tenant's clients to an Excel file",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			tenant, err := a.clients.TenantBySlug(ctx, tenantSlug)
			if err != nil {
				return err
			}
			buf, err := a.clients.ExportClientsXLSX(ctx, tenant.ID)
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("clients-%s-%s.xlsx", tenant.Slug, time.Now().Format("2006-01-02"))
			}
			if err := os.WriteFile(out, buf.Bytes(), 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Printf("Wrote %s\n", out)
			return nil
		}),
	}
	cmd.Flags().StringVar(&tenantSlug, "tenant", "", "tenant slug (defaults to DEFAULT_TENANT_SLUG)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	return cmd
}

func syncPortalURLsCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sync-portal-urls",
		Short: "Rewrite stored portal URLs to match PORTAL_DOMAIN",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			n, err := services.SyncPortalURLs(cmd.Context(), a.db, a.cfg.PortalDomain, dryRun, a.log)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Printf("%d portal URLs would change\n", n)
				return nil
			}
			fmt.Printf("Updated %d portal URLs\n", n)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would change without writing")
	return cmd
}
