package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"blockmail/internal/app"
	"blockmail/internal/config"
	"blockmail/internal/mail"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads .env files and reads the config file.
func loadConfig() (*config.Config, map[string]string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}

	if err := config.LoadEnvFiles(".env", defaults["env_file"]); err != nil {
		return nil, nil, err
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults, nil
}

// newApp reads the config and creates a BlockMailApp. The caller must defer app.Close().
// command identifies the CLI command being run (e.g. "send", "inbox").
func newApp(ctx context.Context, command string) (*app.BlockMailApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewBlockMailApp(ctx, cfg, command)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// withApp runs fn against a fresh app and records a failed operation in the log.
func withApp(command string, fn func(ctx context.Context, a *app.BlockMailApp) error) error {
	ctx := context.Background()
	a, err := newApp(ctx, command)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		a.Fail(err)
		return err
	}
	return nil
}

// restore reconnects the last used wallet or explains how to connect one.
func restore(ctx context.Context, a *app.BlockMailApp) (*mail.Session, error) {
	s, err := a.Restore(ctx)
	if errors.Is(err, app.ErrNoWallet) {
		return nil, fmt.Errorf("%w: run `blockmail connect` first", err)
	}
	return s, err
}

var stdin = bufio.NewReader(os.Stdin)

// readSecret prompts on stderr and reads a line from stdin without echo when
// stdin is a terminal.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// findMessage resolves a full content ID or a unique suffix of one.
func findMessage(mb *mail.Mailbox, id string) (mail.Message, error) {
	if m, ok := mb.Find(id); ok {
		return m, nil
	}
	var found []mail.Message
	for _, m := range mb.Messages() {
		if strings.HasSuffix(m.ID, id) {
			found = append(found, m)
		}
	}
	switch len(found) {
	case 0:
		return mail.Message{}, fmt.Errorf("no message matches %q", id)
	case 1:
		return found[0], nil
	default:
		return mail.Message{}, fmt.Errorf("%q matches %d messages", id, len(found))
	}
}

func printSummary(m mail.Message) {
	marker := " "
	if m.Direction == mail.DirectionReceived && !m.Read {
		marker = "*"
	}
	peer := "from " + m.From.Hex()
	if m.Direction == mail.DirectionSent {
		peer = "to   " + m.To.Hex()
	}
	fmt.Printf("%s %s  %s  %s  %s\n",
		marker,
		m.Timestamp.Local().Format("2006-01-02 15:04"),
		peer,
		m.ID,
		m.Subject,
	)
}

var rootCmd = &cobra.Command{
	Use:   "blockmail",
	Short: "End-to-end encrypted mail over a public ledger",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and the local database",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		installID := uuid.New().String()
		cfg := config.NewConfig(installID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if _, err := app.MigrateDatabase(cfg); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Install ID: %s\n", installID)
		fmt.Printf("Base Dir:   %s\n", defaults["base_dir"])
		fmt.Printf("Secrets (RPC keys, Pinata JWT, ...) go in %s\n", defaults["env_file"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Install ID:    %s\n", cfg.InstallID)
		fmt.Printf("Base Dir:      %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:       %s\n", cfg.LogDir)
		fmt.Printf("Ledger:        %s %s\n", cfg.Ledger.Type, cfg.Ledger.RPCURL)
		fmt.Printf("Mailbox:       %s\n", cfg.Ledger.MailboxAddress)
		fmt.Printf("Registry:      %s\n", cfg.Ledger.RegistryAddress)
		fmt.Printf("Blob store:    %s (cache %d)\n", cfg.Blobs.Type, cfg.Blobs.CacheSize)
		fmt.Printf("Database:      %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Poll interval: %ds\n", cfg.Sync.PollIntervalSeconds)
		fmt.Printf("Wallet cache:  %d\n", cfg.Wallets.MaxCached)
		return nil
	},
}

// connect command
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect a wallet and publish its messaging key",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		address, _ := cmd.Flags().GetString("address")

		return withApp("connect", func(ctx context.Context, a *app.BlockMailApp) error {
			var s *mail.Session
			var err error
			switch {
			case address != "":
				addr, perr := parseAddress(address)
				if perr != nil {
					return perr
				}
				s, err = a.ConnectAddress(ctx, addr)
			default:
				if key == "" {
					key = os.Getenv(config.EnvWalletKey)
				}
				if key == "" {
					if key, err = readSecret("Wallet private key: "); err != nil {
						return err
					}
				}
				s, err = a.Connect(ctx, key)
			}
			if err != nil {
				return err
			}

			pk, err := s.PublicKey()
			if err != nil {
				return err
			}
			mb := s.Mailbox()
			fmt.Printf("Connected:   %s\n", s.Address().Hex())
			fmt.Printf("Public key:  %s\n", pk)
			fmt.Printf("Messages:    %d (%d unread)\n", mb.Len(), mb.Unread())
			return nil
		})
	},
}

// wallets command
var walletsCmd = &cobra.Command{
	Use:   "wallets",
	Short: "List cached wallets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("wallets", func(ctx context.Context, a *app.BlockMailApp) error {
			wallets, err := a.CachedWallets(ctx)
			if err != nil {
				return err
			}
			if len(wallets) == 0 {
				fmt.Println("No cached wallets.")
				return nil
			}
			for i, w := range wallets {
				current := ""
				if i == 0 {
					current = "  [last used]"
				}
				fmt.Printf("%s  %s%s\n", w.Address.Hex(), w.LastUsedAt.Local().Format("2006-01-02 15:04:05"), current)
			}
			return nil
		})
	},
}

var walletsForgetCmd = &cobra.Command{
	Use:   "forget ADDRESS",
	Short: "Remove a wallet from the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		return withApp("wallets forget", func(ctx context.Context, a *app.BlockMailApp) error {
			if err := a.ForgetWallet(ctx, addr); err != nil {
				return err
			}
			fmt.Printf("Forgot %s\n", addr.Hex())
			return nil
		})
	},
}

// disconnect command
var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect the current wallet",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("disconnect", func(ctx context.Context, a *app.BlockMailApp) error {
			if err := a.Disconnect(ctx); err != nil {
				return err
			}
			fmt.Println("Disconnected.")
			return nil
		})
	},
}

// inbox command
var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		unreadOnly, _ := cmd.Flags().GetBool("unread")

		return withApp("inbox", func(ctx context.Context, a *app.BlockMailApp) error {
			s, err := restore(ctx, a)
			if err != nil {
				return err
			}
			mb := s.Mailbox()
			fmt.Printf("%s: %d message(s), %d unread\n\n", s.Address().Hex(), mb.Len(), mb.Unread())

			for _, m := range mb.Messages() {
				if unreadOnly && (m.Read || m.Direction == mail.DirectionSent) {
					continue
				}
				printSummary(m)
			}
			return nil
		})
	},
}

// read command
var readCmd = &cobra.Command{
	Use:   "read ID",
	Short: "Show a message and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("read", func(ctx context.Context, a *app.BlockMailApp) error {
			s, err := restore(ctx, a)
			if err != nil {
				return err
			}
			m, err := findMessage(s.Mailbox(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("ID:      %s\n", m.ID)
			fmt.Printf("From:    %s\n", m.From.Hex())
			fmt.Printf("To:      %s\n", m.To.Hex())
			fmt.Printf("Date:    %s\n", m.Timestamp.Local().Format(time.RFC1123))
			fmt.Printf("Subject: %s\n\n", m.Subject)
			fmt.Println(m.Body)

			if m.Direction == mail.DirectionReceived && !m.Read {
				if err := s.MarkRead(ctx, m.ID); err != nil {
					return fmt.Errorf("marking read: %w", err)
				}
			}
			return nil
		})
	},
}

// send command
var sendCmd = &cobra.Command{
	Use:   "send TO",
	Short: "Send an encrypted message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		body, _ := cmd.Flags().GetString("body")

		to, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		if body == "" || body == "-" {
			b, err := io.ReadAll(stdin)
			if err != nil {
				return fmt.Errorf("reading body: %w", err)
			}
			body = string(b)
		}

		return withApp("send", func(ctx context.Context, a *app.BlockMailApp) error {
			s, err := restore(ctx, a)
			if err != nil {
				return err
			}
			m, err := s.Send(ctx, to, subject, body)
			if errors.Is(err, mail.ErrRecipientKeyMissing) {
				return fmt.Errorf("%s has not connected to blockmail yet, so there is no key to encrypt to", to.Hex())
			}
			if err != nil {
				return err
			}
			fmt.Printf("Sent %s to %s\n", m.ID, to.Hex())
			return nil
		})
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print new messages as they arrive",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("watch", func(ctx context.Context, a *app.BlockMailApp) error {
			s, err := restore(ctx, a)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Printf("Watching %s (Ctrl-C to stop)\n", s.Address().Hex())
			app.WatchMailbox(ctx, s, time.Second, printSummary)
			return nil
		})
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage messaging keys",
}

var keysShowCmd = &cobra.Command{
	Use:   "show [ADDRESS]",
	Short: "Show the public messaging key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("keys show", func(ctx context.Context, a *app.BlockMailApp) error {
			var addr common.Address
			if len(args) > 0 {
				var err error
				if addr, err = parseAddress(args[0]); err != nil {
					return err
				}
			} else {
				wallets, err := a.CachedWallets(ctx)
				if err != nil {
					return err
				}
				if len(wallets) == 0 {
					return app.ErrNoWallet
				}
				addr = wallets[0].Address
			}

			pk, err := a.PublicKey(ctx, addr)
			if err != nil {
				return err
			}
			if pk == nil {
				fmt.Printf("%s has no keypair on this device.\n", addr.Hex())
				return nil
			}
			fmt.Printf("%s  %s\n", addr.Hex(), pk)
			return nil
		})
	},
}

var keysExportCmd = &cobra.Command{
	Use:   "export ADDRESS FILE",
	Short: "Export a keypair to a passphrase-protected file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}

		pass, err := readSecret("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readSecret("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return errors.New("passphrases do not match")
		}

		return withApp("keys export", func(ctx context.Context, a *app.BlockMailApp) error {
			f, err := os.OpenFile(args[1], os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
			if err != nil {
				return fmt.Errorf("creating %s: %w", args[1], err)
			}
			if err := a.ExportKeys(ctx, addr, f, pass); err != nil {
				f.Close()
				os.Remove(args[1])
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("writing %s: %w", args[1], err)
			}
			fmt.Printf("Exported keypair for %s to %s\n", addr.Hex(), args[1])
			return nil
		})
	},
}

var keysImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import a keypair exported from another device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pass, err := readSecret("Passphrase: ")
		if err != nil {
			return err
		}

		return withApp("keys import", func(ctx context.Context, a *app.BlockMailApp) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()

			addr, err := a.ImportKeys(ctx, f, pass)
			if err != nil {
				return err
			}
			fmt.Printf("Imported keypair for %s\n", addr.Hex())
			return nil
		})
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the local database",
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := app.DatabaseStatus(cfg)
		if err != nil {
			return err
		}

		state := "up to date"
		switch {
		case st.Dirty:
			state = "dirty (a migration failed)"
		case st.Version < st.Latest:
			state = "needs migration"
		case st.Version > st.Latest:
			state = "newer than this binary"
		}
		fmt.Printf("Schema version %d of %d: %s\n", st.Version, st.Latest, state)
		return nil
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := app.MigrateDatabase(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Database at schema version %d\n", st.Version)
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup PATH",
	Short: "Write a copy of the local database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("db backup", func(ctx context.Context, a *app.BlockMailApp) error {
			if err := a.BackupDatabase(args[0]); err != nil {
				return err
			}
			fmt.Printf("Database written to %s\n", args[0])
			return nil
		})
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// wallet commands
	connectCmd.Flags().StringP("key", "k", "", "Wallet private key (hex); prompted for when omitted")
	connectCmd.Flags().StringP("address", "a", "", "Reconnect a cached wallet by address")
	walletsCmd.AddCommand(walletsForgetCmd)

	// mail commands
	inboxCmd.Flags().BoolP("unread", "u", false, "Only show unread messages")
	sendCmd.Flags().StringP("subject", "s", "", "Message subject")
	sendCmd.Flags().StringP("body", "b", "", "Message body; read from stdin when omitted or -")

	// keys subcommands
	keysCmd.AddCommand(keysShowCmd)
	keysCmd.AddCommand(keysExportCmd)
	keysCmd.AddCommand(keysImportCmd)

	// db subcommands
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbBackupCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(walletsCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(dbCmd)
}
