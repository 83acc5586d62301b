package module

import (
	"strings"
	"time"

	"shinga/internal/adapters/ingest/mal"
	"shinga/internal/platform/config"
	"shinga/internal/services/updater/domain"
)

// SourceOptions are the per source knobs, from UPDATER_<SRC>_* or the sources file
type SourceOptions struct {
	Disabled   bool          `yaml:"disabled"`
	RPS        int           `yaml:"rps"`
	RPM        int           `yaml:"rpm"`
	BaseURL    string        `yaml:"base_url"`
	Proxy      string        `yaml:"proxy"`      // none | optional | required, empty keeps the provider default
	Credential string        `yaml:"credential"` // same as Proxy
	StaleAfter time.Duration `yaml:"stale_after"`
	PageSize   int           `yaml:"page_size"`
}

// Options controls the updater. Values may also be read from env
type Options struct {
	Workers   int
	UserAgent string

	CacheTTL  time.Duration
	CacheSize int

	MaxRetries     int
	ParseRetries   int
	StorageRetries int
	RetryBase      time.Duration
	RetryCap       time.Duration

	// resource pools
	PoolCooldownAfter  int
	PoolBlacklistAfter int
	PoolCooldownBase   time.Duration
	PoolCooldownCap    time.Duration
	Proxies            []string
	Credentials        []string
	PauseRecheck       time.Duration
	ProxyCheckURL      string
	ProxyCheckSchedule string // empty disables proxy checks

	ItemTimeout  time.Duration
	FetchTimeout time.Duration
	MediaTimeout time.Duration
	DBTimeout    time.Duration

	// covers
	MediaEnabled    bool
	MediaRoot       string
	MediaPublicBase string
	MediaMaxBytes   int64
	MediaTypes      []string
	MediaRPS        float64
	MediaBurst      int

	SweepSchedule string
	SweepLimit    int
	StaleAfter    time.Duration

	EventsBatch int

	Sources map[domain.Source]SourceOptions

	RegistryPath string
	AdminAddr    string
	AdminToken   string // bearer token for the mutating admin routes, empty leaves them unmounted
	SourcesFile  string
}

// sourceDefaults are the upstream ceilings each API tolerates
var sourceDefaults = map[domain.Source]SourceOptions{
	domain.SourceMAL:       {RPS: 3, RPM: 60},
	domain.SourceShikimori: {RPS: 5, RPM: 90},
	domain.SourceRemanga:   {RPS: 2, RPM: 60},
}

// FromConfig reads options using the UPDATER_ prefix
func FromConfig(cfg config.Conf) Options {
	up := cfg.Prefix("UPDATER_")
	o := Options{
		Workers:   up.MayInt("WORKERS", 4),
		UserAgent: up.MayString("USER_AGENT", "shinga-updater"),

		CacheTTL:  up.MayDuration("CACHE_TTL", 15*time.Minute),
		CacheSize: up.MayInt("CACHE_SIZE", 10_000),

		MaxRetries:     up.MayInt("MAX_RETRIES", 5),
		ParseRetries:   up.MayInt("PARSE_RETRIES", 2),
		StorageRetries: up.MayInt("STORAGE_RETRIES", 3),
		RetryBase:      up.MayDuration("RETRY_BASE", 2*time.Second),
		RetryCap:       up.MayDuration("RETRY_CAP", 10*time.Minute),

		PoolCooldownAfter:  up.MayInt("POOL_COOLDOWN_AFTER", 3),
		PoolBlacklistAfter: up.MayInt("POOL_BLACKLIST_AFTER", 20),
		PoolCooldownBase:   up.MayDuration("POOL_COOLDOWN_BASE", 30*time.Second),
		PoolCooldownCap:    up.MayDuration("POOL_COOLDOWN_CAP", 30*time.Minute),
		Proxies:            up.MayCSV("PROXIES", nil),
		Credentials:        up.MayCSV("CREDENTIALS", nil),
		PauseRecheck:       up.MayDuration("PAUSE_RECHECK", 30*time.Second),
		ProxyCheckURL:      up.MayString("PROXY_CHECK_URL", mal.DefaultBaseURL),
		ProxyCheckSchedule: up.MayString("PROXY_CHECK_SCHEDULE", "@every 15m"),

		ItemTimeout:  up.MayDuration("ITEM_TIMEOUT", 2*time.Minute),
		FetchTimeout: up.MayDuration("FETCH_TIMEOUT", 15*time.Second),
		MediaTimeout: up.MayDuration("MEDIA_TIMEOUT", 20*time.Second),
		DBTimeout:    up.MayDuration("DB_TIMEOUT", 10*time.Second),

		MediaEnabled:    up.MayBool("MEDIA_ENABLED", true),
		MediaRoot:       up.MayString("MEDIA_ROOT", "./media/covers"),
		MediaPublicBase: up.MayString("MEDIA_PUBLIC_BASE", "/media/covers"),
		MediaMaxBytes:   up.MayInt64("MEDIA_MAX_BYTES", 5<<20),
		MediaTypes:      up.MayCSV("MEDIA_TYPES", []string{"image/jpeg", "image/png", "image/webp", "image/gif"}),
		MediaRPS:        up.MayFloat64("MEDIA_RPS", 4),
		MediaBurst:      up.MayInt("MEDIA_BURST", 4),

		SweepSchedule: up.MayString("SWEEP_SCHEDULE", "@every 10m"),
		SweepLimit:    up.MayInt("SWEEP_LIMIT", 1000),
		StaleAfter:    up.MayDuration("STALE_AFTER", 72*time.Hour),

		EventsBatch: up.MayInt("EVENTS_BATCH", 200),

		Sources: map[domain.Source]SourceOptions{},

		RegistryPath: up.MayString("REGISTRY_PATH", ""),
		AdminAddr:    up.MayString("ADMIN_ADDR", ""),
		AdminToken:   up.MayString("ADMIN_TOKEN", ""),
		SourcesFile:  up.MayString("SOURCES_FILE", ""),
	}

	enabled := map[domain.Source]bool{}
	for _, s := range up.MayCSV("SOURCES", nil) {
		if src, ok := domain.ParseSource(s); ok {
			enabled[src] = true
		}
	}
	for _, src := range domain.Sources() {
		def := sourceDefaults[src]
		sc := up.Prefix(string(src) + "_")
		o.Sources[src] = SourceOptions{
			Disabled:   len(enabled) > 0 && !enabled[src],
			RPS:        sc.MayInt("RPS", def.RPS),
			RPM:        sc.MayInt("RPM", def.RPM),
			BaseURL:    sc.MayString("BASE_URL", ""),
			Proxy:      strings.ToLower(sc.MayString("PROXY", "")),
			Credential: strings.ToLower(sc.MayString("CREDENTIAL", "")),
			StaleAfter: sc.MayDuration("STALE_AFTER", 0),
			PageSize:   sc.MayInt("PAGE_SIZE", 0),
		}
	}
	return o
}

// merge applies explicit (non zero) overrides, as given on the command line
func (o Options) merge(ov Options) Options {
	if ov.Workers != 0 {
		o.Workers = ov.Workers
	}
	if ov.SweepLimit != 0 {
		o.SweepLimit = ov.SweepLimit
	}
	if len(ov.Proxies) > 0 {
		o.Proxies = ov.Proxies
	}
	if len(ov.Credentials) > 0 {
		o.Credentials = ov.Credentials
	}
	if ov.SourcesFile != "" {
		o.SourcesFile = ov.SourcesFile
	}
	if ov.RegistryPath != "" {
		o.RegistryPath = ov.RegistryPath
	}
	if ov.AdminAddr != "" {
		o.AdminAddr = ov.AdminAddr
	}
	if ov.MaxRetries != 0 {
		o.MaxRetries = ov.MaxRetries
	}
	return o
}
