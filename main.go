package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"mailbridge/config"
	"mailbridge/engine"
	"mailbridge/models"
	"mailbridge/storage"
	"mailbridge/utils"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config file")
	user := flag.String("user", "", "user id")
	account := flag.String("account", "", "account code")
	mailbox := flag.String("mailbox", "", "mailbox name (default INBOX)")
	limit := flag.Int("limit", 0, "fetch page size")
	page := flag.Int("page", 0, "fetch page number")
	sinceUID := flag.Uint("since-uid", 0, "incremental cursor override")
	query := flag.String("query", "", "search query")
	months := flag.Int("months", 0, "search date bound in months (0 = unbounded)")

	// seed-account flags
	protocol := flag.String("protocol", "IMAP", "account protocol (IMAP or POP3)")
	host := flag.String("host", "", "mail server host")
	port := flag.Int("port", 993, "mail server port")
	security := flag.String("security", "SSL", "security mode (SSL, STARTTLS, NONE)")
	username := flag.String("username", "", "mail account username")
	password := flag.String("password", "", "mail account password")

	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		fmt.Fprintln(os.Stderr, "usage: mailbridge [flags] sync|fetch|search|cached|seed-account")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		utils.Log.WithError(err).Fatal("failed to load config")
	}
	utils.InitLogger(cfg.Log.Level, cfg.Log.Format)

	db, err := storage.InitDB(cfg.Storage.Database)
	if err != nil {
		utils.Log.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	settings, err := storage.OpenSettings(cfg.Storage.SettingsDatabase)
	if err != nil {
		utils.Log.WithError(err).Fatal("failed to open settings database")
	}
	defer settings.Close()

	accounts := storage.NewAccountStore(db, cfg.Encryption.Passphrase)
	eng := engine.New(accounts, settings, storage.NewCacheStore(db), storage.NewWatermarkStore(db), cfg.Sync)

	ctx := context.Background()
	opts := engine.SyncOptions{
		Mailbox:  *mailbox,
		Limit:    *limit,
		Page:     *page,
		SinceUID: uint32(*sinceUID),
	}

	switch command {
	case "sync":
		result, err := eng.SyncInbox(ctx, *user, *account, opts)
		if err != nil {
			utils.Log.WithError(err).Fatal("sync failed")
		}
		printJSON(result)

	case "fetch":
		result, err := eng.FetchMailsFromServer(ctx, *user, *account, opts)
		if err != nil {
			utils.Log.WithError(err).Fatal("fetch failed")
		}
		printJSON(result)

	case "search":
		result, err := eng.SearchMailsOnServer(ctx, *user, *account, *query, engine.SearchOptions{
			Mailbox:     *mailbox,
			SinceMonths: *months,
		})
		if err != nil {
			utils.Log.WithError(err).Fatal("search failed")
		}
		printJSON(result)

	case "cached":
		mails, err := eng.GetCachedMails(ctx, *user, *account, *mailbox)
		if err != nil {
			utils.Log.WithError(err).Fatal("cache read failed")
		}
		printJSON(mails)

	case "seed-account":
		err := accounts.SaveAccount(ctx, &models.MailAccount{
			UserID:   *user,
			Code:     *account,
			Protocol: models.Protocol(*protocol),
			Host:     *host,
			Port:     *port,
			Security: models.Security(*security),
			Username: *username,
			IsActive: true,
		}, *password)
		if err != nil {
			utils.Log.WithError(err).Fatal("seed failed")
		}
		utils.Log.WithField("account", *account).Info("account saved")

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		os.Exit(2)
	}
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		utils.Log.WithError(err).Fatal("failed to encode output")
	}
	fmt.Println(string(data))
}
