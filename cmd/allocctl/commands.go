package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"organlink/internal/allocation/models"
	"organlink/internal/allocation/service"
	"organlink/internal/anchor"
	jwttoken "organlink/internal/jwt_token"
	"organlink/internal/platform/config"
	id "organlink/pkg/domain"
	"organlink/pkg/platform/sentinel"
)

var errChecksFailed = errors.New("checks failed")

func newRootCmd(open storeOpener) *cobra.Command {
	root := &cobra.Command{
		Use:           "allocctl",
		Short:         "Organ allocation operations CLI",
		Long:          "Verifies audit chains, reports store inconsistencies and manages directory users.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newVerifyChainCmd(open),
		newConsistencyCmd(open),
		newIssueTokenCmd(),
		newUserCmd(open),
	)
	return root
}

// withService opens the store, runs fn, and closes the store.
func withService(cmd *cobra.Command, open storeOpener, fn func(ctx context.Context, store service.Store, svc *service.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, closeStore, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	svc := service.New(store, service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return fn(ctx, store, svc)
}

func newVerifyChainCmd(open storeOpener) *cobra.Command {
	var anchorPath string
	cmd := &cobra.Command{
		Use:   "verify-chain <allocation-id>",
		Short: "Recompute an allocation's audit chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			allocationID, err := id.ParseAllocationID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, open, func(ctx context.Context, store service.Store, svc *service.Service) error {
				report, err := svc.VerifyAllocation(ctx, allocationID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if report.Valid {
					fmt.Fprintf(out, "chain valid: %d entries\n", report.Entries)
				} else {
					fmt.Fprintf(out, "chain INVALID at entry %d of %d\n", report.FirstInvalidIndex, report.Entries)
				}

				missing := 0
				if anchorPath != "" {
					missing, err = checkAnchors(ctx, store, allocationID, anchorPath, out)
					if err != nil {
						return err
					}
				}
				if !report.Valid || missing > 0 {
					return errChecksFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&anchorPath, "anchors", "", "LevelDB anchor directory to cross-check entry hashes against")
	return cmd
}

func checkAnchors(ctx context.Context, store service.Store, allocationID id.AllocationID, path string, out io.Writer) (int, error) {
	allocation, err := store.FindAllocation(ctx, allocationID)
	if err != nil {
		return 0, err
	}
	db, err := anchor.OpenLevelDB(path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	missing := 0
	for i, entry := range allocation.BlockchainHistory {
		a, err := db.Lookup(ctx, entry.Hash)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			missing++
			fmt.Fprintf(out, "entry %d (%s): not anchored\n", i, entry.Status)
		case err != nil:
			return 0, err
		default:
			fmt.Fprintf(out, "entry %d (%s): anchored %s at %s\n", i, entry.Status, a.Ref(), a.RecordedAt.Format(time.RFC3339))
		}
	}
	return missing, nil
}

func newConsistencyCmd(open storeOpener) *cobra.Command {
	var allocation string
	cmd := &cobra.Command{
		Use:   "consistency",
		Short: "Report allocations whose records disagree",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var allocationID *id.AllocationID
			if allocation != "" {
				parsed, err := id.ParseAllocationID(allocation)
				if err != nil {
					return err
				}
				allocationID = &parsed
			}
			return withService(cmd, open, func(ctx context.Context, _ service.Store, svc *service.Service) error {
				findings, err := svc.CheckConsistency(ctx, allocationID)
				if err != nil {
					return err
				}
				if findings == nil {
					findings = []models.Finding{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(findings); err != nil {
					return err
				}
				if len(findings) > 0 {
					return errChecksFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&allocation, "allocation-id", "", "check a single allocation")
	return cmd
}

func newIssueTokenCmd() *cobra.Command {
	var (
		user string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint an access token for a directory user (development only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			if cfg.IsProduction() {
				return errors.New("issue-token is disabled in production")
			}
			userID, err := id.ParseUserID(user)
			if err != nil {
				return err
			}
			svc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
			token, err := svc.GenerateAccessToken(userID, strings.ToUpper(role), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (subject)")
	cmd.Flags().StringVar(&role, "role", string(models.RoleClinician), "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newUserCmd(open storeOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage directory users",
	}

	var (
		name     string
		role     string
		hospital string
		lat, lng float64
		address  string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a donor, clinician or admin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			u := &models.User{
				ID:        id.UserID(uuid.New()),
				Name:      strings.TrimSpace(name),
				Role:      models.Role(strings.ToUpper(role)),
				Address:   address,
				CreatedAt: time.Now().UTC(),
			}
			switch u.Role {
			case models.RoleDonor, models.RoleClinician, models.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			if hospital != "" {
				h, err := id.ParseHospitalID(hospital)
				if err != nil {
					return err
				}
				u.HospitalID = &h
			}
			if u.Role == models.RoleClinician && u.HospitalID == nil {
				return errors.New("clinicians need --hospital")
			}
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				loc := models.Location{Lat: lat, Lng: lng}
				if err := loc.Validate(); err != nil {
					return err
				}
				u.Location = &loc
			}
			return withService(cmd, open, func(ctx context.Context, store service.Store, _ *service.Service) error {
				if err := store.SaveUser(ctx, u); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), u.ID.String())
				return nil
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&role, "role", "", "DONOR, CLINICIAN or ADMIN")
	add.Flags().StringVar(&hospital, "hospital", "", "hospital id")
	add.Flags().Float64Var(&lat, "lat", 0, "latitude")
	add.Flags().Float64Var(&lng, "lng", 0, "longitude")
	add.Flags().StringVar(&address, "address", "", "postal address")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("role")

	cmd.AddCommand(add)
	return cmd
}
