package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mintline/internal/config"
	"mintline/internal/db"
	"mintline/internal/engine"
	"mintline/internal/ledger"
	"mintline/internal/migrate"
	"mintline/internal/oracle"
	"mintline/internal/reaper"
	"mintline/internal/repo"
	"mintline/internal/report"
	"mintline/internal/server"
	"mintline/internal/settle"
	"mintline/internal/verify"
)

var rootCmd = &cobra.Command{
	Use:   "ml",
	Short: "Mintline CLI",
	Long: `Mintline redeems reward tickets for randomly drawn collectibles and settles
peer-to-peer trades and sales through a delegated settlement authority.
- Tickets: redeemable units delivered by the reward feed; leased, never double-spent.
- Mints: prepare leases a ticket and draws an identity; submit forwards your signed
  transaction and consumes the ticket once the ledger confirms it.
- Offers: swap one owned collectible for any of a set of wanted identities.
- Listings: sell one owned collectible at a fixed price.
- Every draw stores its randomness provenance; 'ml mint verify' replays it.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MINTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(ticketCmd())
	rootCmd.AddCommand(walletCmd())
	rootCmd.AddCommand(mintCmd())
	rootCmd.AddCommand(offerCmd())
	rootCmd.AddCommand(listingCmd())
	rootCmd.AddCommand(transferCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(reapCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(authorityCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default mintline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	return cfg
}

func ticketCmd() *cobra.Command {
	t := &cobra.Command{Use: "ticket", Short: "Manage reward tickets"}

	var owner, source, id string
	add := &cobra.Command{
		Use:   "add",
		Short: "Ingest a ticket locally (dev feed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				owner = viper.GetString("user-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ticket, err := e.IngestTicket(ctx, id, owner, source)
				if err != nil {
					return err
				}
				return printJSONOrTable(ticket)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "ticket id (optional, idempotency key)")
	add.Flags().StringVar(&owner, "owner", "", "ticket owner (defaults to --user-id)")
	add.Flags().StringVar(&source, "source", "cli", "upstream source reference")
	t.AddCommand(add)

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List my tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTickets(ctx, repo.TicketFilters{
					Owner:  viper.GetString("user-id"),
					Status: status,
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().IntVar(&limit, "limit", 0, "max rows")
	t.AddCommand(list)
	return t
}

func walletCmd() *cobra.Command {
	w := &cobra.Command{Use: "wallet", Short: "Manage wallet links"}

	link := &cobra.Command{
		Use:   "link <address>",
		Short: "Link a wallet address to my user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.LinkWallet(ctx, viper.GetString("user-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	w.AddCommand(link)

	list := &cobra.Command{
		Use:   "list",
		Short: "List my wallet links",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWalletLinks(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	w.AddCommand(list)
	return w
}

func mintCmd() *cobra.Command {
	m := &cobra.Command{Use: "mint", Short: "Redeem tickets for collectibles"}

	var wallet, intentID string
	prepare := &cobra.Command{
		Use:   "prepare",
		Short: "Lease a ticket and draw an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if wallet == "" {
				return fmt.Errorf("--wallet required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				intent, err := e.PrepareMint(ctx, engine.MintPrepareOptions{
					IntentID: intentID,
					Owner:    viper.GetString("user-id"),
					Wallet:   wallet,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(intent)
			})
		},
	}
	prepare.Flags().StringVar(&wallet, "wallet", "", "receiving wallet address")
	prepare.Flags().StringVar(&intentID, "intent-id", "", "idempotency id")
	m.AddCommand(prepare)

	var signedFile string
	submit := &cobra.Command{
		Use:   "submit <intent-id>",
		Short: "Submit the signed mint transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := readPayload(signedFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				intent, err := e.SubmitMint(ctx, args[0], viper.GetString("user-id"), signed)
				if err != nil {
					return err
				}
				return printJSONOrTable(intent)
			})
		},
	}
	submit.Flags().StringVar(&signedFile, "signed-tx", "", "path to signed transaction payload, - for stdin")
	_ = submit.MarkFlagRequired("signed-tx")
	m.AddCommand(submit)

	cancel := &cobra.Command{
		Use:   "cancel <intent-id>",
		Short: "Cancel a prepared mint and free its ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				intent, err := e.CancelMint(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(intent)
			})
		},
	}
	m.AddCommand(cancel)

	show := &cobra.Command{
		Use:   "show <intent-id>",
		Short: "Show a mint intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				intent, err := r.GetMintIntent(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(intent)
			})
		},
	}
	m.AddCommand(show)

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List my mint intents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListMintIntents(ctx, repo.MintIntentFilters{
					Owner:  viper.GetString("user-id"),
					Status: status,
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().IntVar(&limit, "limit", 0, "max rows")
	m.AddCommand(list)

	verifyCmd := &cobra.Command{
		Use:   "verify <intent-id>",
		Short: "Replay a draw from its stored provenance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			v := verify.Verifier{
				Repo:   repo.Repo{DB: conn},
				Ledger: newLedgerClient(cfg),
			}
			finding, err := v.Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(finding)
		},
	}
	m.AddCommand(verifyCmd)
	return m
}

func offerCmd() *cobra.Command {
	o := &cobra.Command{Use: "offer", Short: "Trade offers"}

	var wallet, asset, expiresAt string
	var wanted []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Draft a trade offer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				offer, err := e.CreateOffer(ctx, engine.OfferCreateOptions{
					Maker:       viper.GetString("user-id"),
					MakerWallet: wallet,
					MakerAsset:  asset,
					Wanted:      wanted,
					ExpiresAt:   expiresAt,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(offer)
			})
		},
	}
	create.Flags().StringVar(&wallet, "wallet", "", "maker wallet address")
	create.Flags().StringVar(&asset, "asset", "", "asset to offer")
	create.Flags().StringSliceVar(&wanted, "wanted", nil, "acceptable identities")
	create.Flags().StringVar(&expiresAt, "expires-at", "", "RFC3339 expiry")
	o.AddCommand(create)

	var signedFile string
	open := &cobra.Command{
		Use:   "open <offer-id>",
		Short: "Submit maker delegation and open the offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := readPayload(signedFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				offer, err := e.SubmitOfferDelegation(ctx, args[0], viper.GetString("user-id"), signed)
				if err != nil {
					return err
				}
				return printJSONOrTable(offer)
			})
		},
	}
	open.Flags().StringVar(&signedFile, "signed-tx", "", "path to signed delegation, - for stdin")
	_ = open.MarkFlagRequired("signed-tx")
	o.AddCommand(open)

	var takerWallet, takerAsset string
	lock := &cobra.Command{
		Use:   "lock <offer-id>",
		Short: "Lock an open offer as taker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				offer, err := e.LockOffer(ctx, engine.OfferLockOptions{
					OfferID:     args[0],
					Taker:       viper.GetString("user-id"),
					TakerWallet: takerWallet,
					TakerAsset:  takerAsset,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(offer)
			})
		},
	}
	lock.Flags().StringVar(&takerWallet, "wallet", "", "taker wallet address")
	lock.Flags().StringVar(&takerAsset, "asset", "", "asset offered back")
	o.AddCommand(lock)

	var acceptFile string
	accept := &cobra.Command{
		Use:   "accept <offer-id>",
		Short: "Submit taker delegation and settle the swap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := readPayload(acceptFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				offer, err := e.SubmitOfferAcceptance(ctx, args[0], viper.GetString("user-id"), signed)
				if err != nil {
					return err
				}
				return printJSONOrTable(offer)
			})
		},
	}
	accept.Flags().StringVar(&acceptFile, "signed-tx", "", "path to signed delegation, - for stdin")
	_ = accept.MarkFlagRequired("signed-tx")
	o.AddCommand(accept)

	abort := &cobra.Command{
		Use:   "abort <offer-id>",
		Short: "Release my lock on an offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				offer, err := e.AbortOfferLock(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(offer)
			})
		},
	}
	o.AddCommand(abort)

	cancel := &cobra.Command{
		Use:   "cancel <offer-id>",
		Short: "Cancel my draft or open offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				offer, err := e.CancelOffer(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(offer)
			})
		},
	}
	o.AddCommand(cancel)

	show := &cobra.Command{
		Use:   "show <offer-id>",
		Short: "Show a trade offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				offer, err := r.GetOffer(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(offer)
			})
		},
	}
	o.AddCommand(show)

	var party, status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List trade offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListOffers(ctx, repo.EscrowFilters{Party: party, Status: status, Limit: limit})
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&party, "party", "", "filter by maker or taker")
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().IntVar(&limit, "limit", 0, "max rows")
	o.AddCommand(list)
	return o
}

func listingCmd() *cobra.Command {
	l := &cobra.Command{Use: "listing", Short: "Sale listings"}

	var wallet, asset, expiresAt string
	var price int64
	create := &cobra.Command{
		Use:   "create",
		Short: "Draft a sale listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				listing, err := e.CreateListing(ctx, engine.ListingCreateOptions{
					Seller:       viper.GetString("user-id"),
					SellerWallet: wallet,
					Asset:        asset,
					Price:        price,
					ExpiresAt:    expiresAt,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(listing)
			})
		},
	}
	create.Flags().StringVar(&wallet, "wallet", "", "seller wallet address")
	create.Flags().StringVar(&asset, "asset", "", "asset to sell")
	create.Flags().Int64Var(&price, "price", 0, "sale price")
	create.Flags().StringVar(&expiresAt, "expires-at", "", "RFC3339 expiry")
	l.AddCommand(create)

	var signedFile string
	open := &cobra.Command{
		Use:   "open <listing-id>",
		Short: "Submit seller delegation and open the listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := readPayload(signedFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				listing, err := e.SubmitListingDelegation(ctx, args[0], viper.GetString("user-id"), signed)
				if err != nil {
					return err
				}
				return printJSONOrTable(listing)
			})
		},
	}
	open.Flags().StringVar(&signedFile, "signed-tx", "", "path to signed delegation, - for stdin")
	_ = open.MarkFlagRequired("signed-tx")
	l.AddCommand(open)

	var buyerWallet string
	lock := &cobra.Command{
		Use:   "lock <listing-id>",
		Short: "Lock an open listing as buyer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				listing, err := e.LockListing(ctx, engine.ListingLockOptions{
					ListingID:   args[0],
					Buyer:       viper.GetString("user-id"),
					BuyerWallet: buyerWallet,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(listing)
			})
		},
	}
	lock.Flags().StringVar(&buyerWallet, "wallet", "", "buyer wallet address")
	l.AddCommand(lock)

	var payFile string
	buy := &cobra.Command{
		Use:   "buy <listing-id>",
		Short: "Submit buyer payment and settle the sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := readPayload(payFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				listing, err := e.SubmitListingPurchase(ctx, args[0], viper.GetString("user-id"), signed)
				if err != nil {
					return err
				}
				return printJSONOrTable(listing)
			})
		},
	}
	buy.Flags().StringVar(&payFile, "signed-tx", "", "path to signed payment, - for stdin")
	_ = buy.MarkFlagRequired("signed-tx")
	l.AddCommand(buy)

	abort := &cobra.Command{
		Use:   "abort <listing-id>",
		Short: "Release my lock on a listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				listing, err := e.AbortListingLock(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(listing)
			})
		},
	}
	l.AddCommand(abort)

	cancel := &cobra.Command{
		Use:   "cancel <listing-id>",
		Short: "Cancel my draft or open listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				listing, err := e.CancelListing(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(listing)
			})
		},
	}
	l.AddCommand(cancel)

	show := &cobra.Command{
		Use:   "show <listing-id>",
		Short: "Show a sale listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				listing, err := r.GetListing(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(listing)
			})
		},
	}
	l.AddCommand(show)

	var party, status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List sale listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListListings(ctx, repo.EscrowFilters{Party: party, Status: status, Limit: limit})
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&party, "party", "", "filter by seller or buyer")
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().IntVar(&limit, "limit", 0, "max rows")
	l.AddCommand(list)
	return l
}

func transferCmd() *cobra.Command {
	t := &cobra.Command{Use: "transfer", Short: "Direct transfers"}

	var wallet, asset, recipient string
	prepare := &cobra.Command{
		Use:   "prepare",
		Short: "Prepare a direct transfer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				intent, err := e.PrepareTransfer(ctx, engine.TransferPrepareOptions{
					Owner:     viper.GetString("user-id"),
					Wallet:    wallet,
					Asset:     asset,
					Recipient: recipient,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(intent)
			})
		},
	}
	prepare.Flags().StringVar(&wallet, "wallet", "", "source wallet address")
	prepare.Flags().StringVar(&asset, "asset", "", "asset to transfer")
	prepare.Flags().StringVar(&recipient, "recipient", "", "recipient wallet address")
	t.AddCommand(prepare)

	var signedFile string
	submit := &cobra.Command{
		Use:   "submit <intent-id>",
		Short: "Submit the signed transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := readPayload(signedFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				intent, err := e.SubmitTransfer(ctx, args[0], viper.GetString("user-id"), signed)
				if err != nil {
					return err
				}
				return printJSONOrTable(intent)
			})
		},
	}
	submit.Flags().StringVar(&signedFile, "signed-tx", "", "path to signed transfer, - for stdin")
	_ = submit.MarkFlagRequired("signed-tx")
	t.AddCommand(submit)
	return t
}

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Supply and leaderboard report",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			b := &report.Builder{Repo: repo.Repo{DB: conn}, Config: cfg}
			rep, err := b.Get(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(rep)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Identity", "Minted", "Reserved", "Cap"})
			for _, s := range rep.Supplies {
				capCol := "-"
				if s.MaxSupply > 0 {
					capCol = fmt.Sprint(s.MaxSupply)
				}
				tw.AppendRow(table.Row{s.Identity, s.Minted, s.Reserved, capCol})
			}
			tw.Render()
			lb := table.NewWriter()
			lb.SetOutputMirror(os.Stdout)
			lb.AppendHeader(table.Row{"Owner", "Mints"})
			for _, e := range rep.Leaderboard {
				lb.AppendRow(table.Row{e.Owner, e.Mints})
			}
			lb.Render()
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Audit log"}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	lg.AddCommand(tail)
	return lg
}

func reapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Run one lease sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func authorityCmd() *cobra.Command {
	a := &cobra.Command{Use: "authority", Short: "Settlement authority"}
	a.AddCommand(&cobra.Command{
		Use:   "address",
		Short: "Print the authority's delegation address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			authority, err := settle.New(cfg.Authority.SeedHex, nil)
			if err != nil {
				return err
			}
			fmt.Println(authority.Address())
			return nil
		},
	})
	return a
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and reaper",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
			e, err := buildEngine(conn, cfg, logger)
			if err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret: os.Getenv("MINTLINE_JWT_SECRET"),
				Logger:    logger,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("MINTLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				Report:   &report.Builder{Repo: e.Repo, Config: cfg},
				Verifier: verify.Verifier{Repo: e.Repo, Ledger: e.Ledger},
				BasePath: cfg.Service.BasePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}

			reapCtx, stopReaper := context.WithCancel(cmd.Context())
			defer stopReaper()
			go reaper.Reaper{
				Engine:   e,
				Interval: time.Duration(cfg.Leases.ReaperIntervalSeconds) * time.Second,
				Logger:   logger,
			}.Run(reapCtx)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving mintline api", "addr", addr, "base_path", cfg.Service.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

// --- helpers ---

func newLedgerClient(cfg *config.Config) *ledger.RPCClient {
	lc := ledger.NewRPCClient(cfg.Ledger.RPCURL)
	if cfg.Ledger.ConfirmTimeoutSeconds > 0 {
		lc.ConfirmTimeout = time.Duration(cfg.Ledger.ConfirmTimeoutSeconds) * time.Second
	}
	return lc
}

func buildEngine(conn *sql.DB, cfg *config.Config, logger *slog.Logger) (engine.Engine, error) {
	lc := newLedgerClient(cfg)
	authority, err := settle.New(cfg.Authority.SeedHex, lc)
	if err != nil {
		return engine.Engine{}, fmt.Errorf("authority: %w", err)
	}
	var beacons []oracle.Beacon
	for _, url := range cfg.Oracle.Providers {
		beacons = append(beacons, oracle.NewHTTPBeacon(url))
	}
	orc := &oracle.Adapter{
		Providers:   beacons,
		MaxAttempts: cfg.Oracle.MaxAttempts,
		Logger:      logger,
	}
	return engine.New(conn, cfg, lc, authority, orc, logger), nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	e, err := buildEngine(conn, cfg, logger)
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func readPayload(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
