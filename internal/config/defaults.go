package config

import (
	"time"

	"github.com/niyio-cyber/NECIM-Market/internal/classifier"
	"github.com/niyio-cyber/NECIM-Market/internal/collector"
	"github.com/niyio-cyber/NECIM-Market/internal/domain"
)

// dotPageMaxItems matches the per-page cap of the old scraper.
const dotPageMaxItems = 15

// Default returns a complete configuration for the eight northeast states.
func Default() *Config {
	return &Config{
		Sources: DefaultSources(),
		Rules:   classifier.DefaultRuleSet(),
		Scoring: ScoringConfig{
			PriorityStates:     []string{"VT", "NH", "ME"},
			PriorityMultiplier: 1.25,
			HighScore:          5,
			MediumScore:        2,
		},
		Fetch: FetchConfig{
			UserAgent:     collector.DefaultUserAgent,
			Timeout:       20 * time.Second,
			Retry:         true,
			RetryBackoff:  2 * time.Second,
			CourtesyDelay: 300 * time.Millisecond,
			MaxBodyBytes:  8 << 20,
		},
		Pipeline: PipelineConfig{
			Concurrency: 6,
			Budget:      5 * time.Minute,
		},
		Dedupe: DedupeConfig{
			Threshold:       0.8,
			Window:          72 * time.Hour,
			TimestampPolicy: "earliest",
		},
		Snapshot: SnapshotConfig{
			Retention: 14 * 24 * time.Hour,
			MaxItems:  500,
		},
		Output: OutputConfig{
			Path:        "data/necmis_data.json",
			HistoryDir:  "data/history",
			HistoryKeep: 30,
		},
		Storage: StorageConfig{
			HistoryKeep: 90,
			CacheTTL:    time.Hour,
		},
		Server: ServerConfig{
			Port:     "9000",
			CronSpec: "0 */6 * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func feed(name, url, state string) domain.Source {
	return domain.Source{Name: name, Category: domain.CategoryFeed, URL: url, State: state, Kind: "news"}
}

func dotPage(name, url, state, kind string) domain.Source {
	return domain.Source{
		Name:             name,
		Category:         domain.CategoryPage,
		URL:              url,
		State:            state,
		Kind:             kind,
		Structure:        "links",
		TolerateFailures: true,
		MaxItems:         dotPageMaxItems,
	}
}

// DefaultSources is the registry in run order: regional news, industry
// publications, then DOT pages.
func DefaultSources() []domain.Source {
	return []domain.Source{
		feed("VTDigger", "https://vtdigger.org/feed/", "VT"),
		feed("Vermont Biz", "https://vermontbiz.com/feed/", "VT"),
		feed("Union Leader", "https://www.unionleader.com/search/?f=rss&t=article&c=news/business&l=50&s=start_time&sd=desc", "NH"),
		feed("InDepthNH", "https://indepthnh.org/feed/", "NH"),
		feed("Press Herald", "https://www.pressherald.com/feed/", "ME"),
		feed("Bangor Daily", "https://bangordailynews.com/feed/", "ME"),
		feed("Times Union", "https://www.timesunion.com/rss/feed/News-702.php", "NY"),
		feed("Syracuse.com", "https://www.syracuse.com/arc/outboundfeeds/rss/?outputType=xml", "NY"),
		feed("PennLive", "https://www.pennlive.com/arc/outboundfeeds/rss/?outputType=xml", "PA"),
		feed("MassLive", "https://www.masslive.com/arc/outboundfeeds/rss/?outputType=xml", "MA"),
		feed("Providence Journal", "https://www.providencejournal.com/arcio/rss/category/news/", "RI"),
		feed("CT Mirror", "https://ctmirror.org/feed/", "CT"),
		feed("Pit & Quarry", "https://www.pitandquarry.com/feed/", domain.StateMulti),
		feed("ForConstructionPros", "https://www.forconstructionpros.com/rss", domain.StateMulti),

		dotPage("VTrans Construction", "https://vtrans.vermont.gov/about/construction-report", "VT", "projects"),
		dotPage("VTrans Bids", "https://vtrans.vermont.gov/contract-admin/bids-requests/construction-contracting", "VT", "bids"),
		dotPage("NHDOT Bids", "https://www.dot.nh.gov/doing-business-nhdot/contractors/invitation-bid", "NH", "bids"),
		dotPage("MaineDOT Projects", "https://www.maine.gov/dot/projects/", "ME", "projects"),
		dotPage("NYSDOT Lettings", "https://www.dot.ny.gov/doing-business/opportunities/const-highway", "NY", "bids"),
		dotPage("MassDOT Bids", "https://www.mass.gov/info-details/advertised-projects-bid-opening-schedule", "MA", "bids"),
		dotPage("RIDOT Projects", "https://www.dot.ri.gov/projects/", "RI", "projects"),
		dotPage("CTDOT Projects", "https://portal.ct.gov/dot/projects/projects/projects-and-studies", "CT", "projects"),
	}
}
