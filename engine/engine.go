package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"mailbridge/config"
	"mailbridge/mailer"
	"mailbridge/models"
	"mailbridge/storage"
	"mailbridge/utils"
)

// SettingCacheLimit is the user-settings key for the per-account retention
// cap.
const SettingCacheLimit = "mail_cache_limit"

// SyncOptions tunes one fetch or sync invocation. Zero values fall back to
// configured defaults; SinceUID = 0 means "use the persisted watermark".
type SyncOptions struct {
	Mailbox    string
	Limit      int
	Page       int
	SinceUID   uint32
	CacheLimit int
}

// Engine is the single entry point the surrounding application uses to pull
// mail: it resolves credentials, dispatches to the account's protocol
// adapter, persists results and advances the incremental cursor. Each
// invocation owns exactly one network session; there is no connection pool.
type Engine struct {
	accounts   *storage.AccountStore
	settings   *storage.SettingsStore
	cache      *storage.CacheStore
	watermarks *storage.WatermarkStore
	cfg        config.SyncConfig

	// One logical sync per (user, account, mailbox) at a time; duplicate
	// concurrent calls share the in-flight result.
	flight singleflight.Group

	// Polite dialing towards mail servers.
	dialLimiter *rate.Limiter

	// Session constructors, swappable in tests.
	openSession  func(profile *models.ConnectionProfile) (mailer.Session, error)
	openSearcher func(profile *models.ConnectionProfile) (searchSession, error)
}

type searchSession interface {
	Search(mailbox, query string, since time.Time, max int) ([]models.Mail, error)
	Close()
}

// New wires an engine over the given stores.
func New(accounts *storage.AccountStore, settings *storage.SettingsStore, cache *storage.CacheStore, watermarks *storage.WatermarkStore, cfg config.SyncConfig) *Engine {
	e := &Engine{
		accounts:    accounts,
		settings:    settings,
		cache:       cache,
		watermarks:  watermarks,
		cfg:         cfg,
		dialLimiter: rate.NewLimiter(rate.Limit(cfg.DialsPerSecond), cfg.DialBurst),
	}

	e.openSession = func(profile *models.ConnectionProfile) (mailer.Session, error) {
		switch profile.Protocol {
		case models.ProtocolIMAP:
			return mailer.DialIMAP(profile, cfg.DialTimeout(), cfg.CommandTimeout())
		case models.ProtocolPOP3:
			return mailer.DialPOP3(profile, cfg.DialTimeout(), cfg.CommandTimeout())
		default:
			return nil, utils.ConfigurationError(
				fmt.Sprintf("unsupported protocol %q", profile.Protocol), nil)
		}
	}
	e.openSearcher = func(profile *models.ConnectionProfile) (searchSession, error) {
		return mailer.DialIMAP(profile, cfg.DialTimeout(), cfg.CommandTimeout())
	}

	return e
}

// FetchMailsFromServer retrieves one page (or the incremental tail) from the
// account's server without touching the cache or the watermark.
func (e *Engine) FetchMailsFromServer(ctx context.Context, userID, accountCode string, opts SyncOptions) (*models.FetchResult, error) {
	opts = e.withDefaults(opts)

	profile, err := e.accounts.ResolveProfile(ctx, userID, accountCode)
	if err != nil {
		return nil, err
	}

	res, err := e.fetch(ctx, profile, accountCode, opts)
	if err != nil {
		return nil, err
	}

	return &models.FetchResult{
		Mails:         res.Mails,
		TotalOnServer: res.TotalOnServer,
		Fetched:       res.Fetched,
	}, nil
}

// SyncInbox fetches new mail for the account and merges it into the cache.
// The effective incremental cursor is opts.SinceUID when supplied, otherwise
// the persisted watermark. Safe to re-run with the same or a stale cursor:
// overlap only re-fetches, never corrupts. Concurrent calls for the same
// (user, account, mailbox) are collapsed onto one in-flight sync.
func (e *Engine) SyncInbox(ctx context.Context, userID, accountCode string, opts SyncOptions) (*models.SyncResult, error) {
	opts = e.withDefaults(opts)
	key := userID + "|" + accountCode + "|" + opts.Mailbox

	v, err, _ := e.flight.Do(key, func() (interface{}, error) {
		return e.syncInbox(ctx, userID, accountCode, opts)
	})
	result, _ := v.(*models.SyncResult)
	return result, err
}

func (e *Engine) syncInbox(ctx context.Context, userID, accountCode string, opts SyncOptions) (*models.SyncResult, error) {
	logger := utils.Log.WithFields(logrus.Fields{
		"session": uuid.NewString(),
		"user":    userID,
		"account": accountCode,
		"mailbox": opts.Mailbox,
	})

	profile, err := e.accounts.ResolveProfile(ctx, userID, accountCode)
	if err != nil {
		return nil, err
	}

	// POP3 exposes only the single implicit inbox; records, watermark and
	// read-back all key on it regardless of the requested mailbox.
	if profile.Protocol == models.ProtocolPOP3 {
		opts.Mailbox = mailer.InboxMailbox
	}

	// Effective cursor: caller-supplied wins, else the persisted watermark.
	cursor := opts.SinceUID
	if cursor == 0 {
		wm, err := e.watermarks.Get(ctx, userID, accountCode, opts.Mailbox)
		if err != nil {
			return nil, err
		}
		cursor = wm.LastUID
	}
	opts.SinceUID = cursor

	cacheLimit := e.resolveCacheLimit(userID, opts.CacheLimit, logger)

	res, err := e.fetch(ctx, profile, accountCode, opts)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"fetched": res.Fetched,
		"total":   res.TotalOnServer,
		"cursor":  cursor,
	}).Info("fetched mail from server")

	result := &models.SyncResult{
		Mails:         res.Mails,
		TotalOnServer: res.TotalOnServer,
		Fetched:       res.Fetched,
	}

	cached, err := e.cache.UpsertBatch(ctx, userID, profile.Protocol, res.Mails, cacheLimit)
	if err != nil {
		// The transaction rolled back; the watermark must not advance.
		logger.WithError(err).Error("cache persist failed")
		return result, err
	}
	result.Cached = cached

	if res.Fetched > 0 {
		maxUID := cursor
		for _, m := range res.Mails {
			if m.UID > maxUID {
				maxUID = m.UID
			}
		}

		err := e.watermarks.Advance(ctx, &models.SyncWatermark{
			UserID:        userID,
			AccountCode:   accountCode,
			Mailbox:       opts.Mailbox,
			LastUID:       maxUID,
			TotalOnServer: res.TotalOnServer,
			LastSyncedAt:  time.Now().UTC(),
		})
		if err != nil {
			logger.WithError(err).Error("watermark advance failed")
			return result, err
		}
	}

	// Post-persist read-back; falling back to the raw fetched set keeps the
	// sync result usable if the read fails after a successful commit.
	mails, err := e.cache.GetCachedMails(ctx, userID, accountCode, opts.Mailbox)
	if err != nil {
		logger.WithError(err).Warn("cache read-back failed; returning fetched set")
	} else {
		result.Mails = mails
	}

	return result, nil
}

// GetCachedMails reads cached records newest first. An empty accountCode
// aggregates across all of the user's accounts.
func (e *Engine) GetCachedMails(ctx context.Context, userID, accountCode, mailbox string) ([]models.Mail, error) {
	return e.cache.GetCachedMails(ctx, userID, accountCode, mailbox)
}

// fetch opens one protocol session, fetches, and always closes it.
func (e *Engine) fetch(ctx context.Context, profile *models.ConnectionProfile, accountCode string, opts SyncOptions) (*mailer.FetchResult, error) {
	if err := e.dialLimiter.Wait(ctx); err != nil {
		return nil, utils.TransientError("sync canceled while waiting to dial", err)
	}

	session, err := e.openSession(profile)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	return session.Fetch(mailer.FetchOptions{
		AccountCode: accountCode,
		Mailbox:     opts.Mailbox,
		Limit:       opts.Limit,
		Page:        opts.Page,
		SinceUID:    opts.SinceUID,
	})
}

func (e *Engine) withDefaults(opts SyncOptions) SyncOptions {
	if opts.Mailbox == "" {
		opts.Mailbox = mailer.InboxMailbox
	}
	if opts.Limit < 1 {
		opts.Limit = e.cfg.PageSize
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	return opts
}

// resolveCacheLimit applies the precedence caller > user setting > default.
func (e *Engine) resolveCacheLimit(userID string, requested int, logger *logrus.Entry) int {
	if requested > 0 {
		return requested
	}

	if value, ok, err := e.settings.Get(userID, SettingCacheLimit); err != nil {
		logger.WithError(err).Warn("failed to read cache-limit setting")
	} else if ok {
		if limit, err := strconv.Atoi(value); err == nil && limit > 0 {
			return limit
		}
		logger.WithField("value", value).Warn("ignoring invalid cache-limit setting")
	}

	return e.cfg.CacheLimit
}
