package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/niyio-cyber/NECIM-Market/internal/classifier"
	"github.com/niyio-cyber/NECIM-Market/internal/collector"
	"github.com/niyio-cyber/NECIM-Market/internal/domain"
	"github.com/niyio-cyber/NECIM-Market/internal/extractor"
	"github.com/niyio-cyber/NECIM-Market/internal/logging"
	"github.com/niyio-cyber/NECIM-Market/internal/processor"
	"github.com/niyio-cyber/NECIM-Market/internal/snapshot"
)

var fixedNow = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

const pavingTitle = "State awards $4M paving contract for Route 7 resurfacing"

type entry struct{ title, link, date string }

func rss(entries ...entry) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>`)
	for _, e := range entries {
		fmt.Fprintf(&b, "<item><title>%s</title><link>%s</link><pubDate>%s</pubDate></item>", e.title, e.link, e.date)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

type fakeFetcher struct {
	bodies map[string]string
	errs   map[string]error
	// block hangs until the run budget is spent
	block map[string]bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, src domain.Source) ([]byte, error) {
	if f.block[src.Name] {
		<-ctx.Done()
		return nil, &collector.TimeoutError{Err: ctx.Err()}
	}
	if err, ok := f.errs[src.Name]; ok {
		return nil, err
	}
	return []byte(f.bodies[src.Name]), nil
}

type memStore struct {
	mu      sync.Mutex
	payload []byte
	saves   int
}

func (m *memStore) Load() (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payload == nil {
		return nil, nil
	}
	return domain.DecodeSnapshot(m.payload)
}

func (m *memStore) Save(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payload = append([]byte(nil), payload...)
	m.saves++
	return nil
}

type recordingPublisher struct {
	runs []string
	err  error
}

func (r *recordingPublisher) Publish(_ context.Context, runID string, _ *domain.Snapshot, _ []byte) error {
	r.runs = append(r.runs, runID)
	return r.err
}

func feedSource(name, state string) domain.Source {
	return domain.Source{Name: name, Category: domain.CategoryFeed, URL: "https://" + strings.ToLower(name) + ".example.com/feed", State: state}
}

func newPipeline(t *testing.T, srcs []domain.Source, f collector.Fetcher, store Store) *Pipeline {
	t.Helper()
	reg, err := domain.NewRegistry(srcs)
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	cls, err := classifier.New(classifier.DefaultRuleSet(), classifier.Options{
		PriorityStates:     []string{"VT", "NH", "ME"},
		PriorityMultiplier: 1.25,
	})
	if err != nil {
		t.Fatalf("classifier.New error: %v", err)
	}
	return &Pipeline{
		Registry:   reg,
		Fetcher:    f,
		Extractor:  extractor.New(nil),
		Classifier: cls,
		Builder: &snapshot.Builder{
			Retention: 14 * 24 * time.Hour,
			MaxItems:  500,
			Dedup:     processor.NewDeduplicator(0.8, 72*time.Hour, processor.TimestampEarliest, reg.Rank),
			Rank:      reg.Rank,
			RuleSet:   cls.RuleSet(),
		},
		Store:       store,
		Concurrency: 3,
		Budget:      5 * time.Second,
		Now:         func() time.Time { return fixedNow },
		Logger:      logging.Discard(),
	}
}

func TestRunKeepsPavingDropsBakery(t *testing.T) {
	f := &fakeFetcher{bodies: map[string]string{
		"A": rss(
			entry{pavingTitle, "https://example.com/news/route-7", "Thu, 09 Jan 2025 10:00:00 GMT"},
			entry{"Local bakery wins community award", "https://example.com/news/bakery", "Thu, 09 Jan 2025 11:00:00 GMT"},
		),
	}}
	store := &memStore{}
	p := newPipeline(t, []domain.Source{feedSource("A", "VT")}, f, store)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	items := res.Snapshot.Items
	if len(items) != 1 || items[0].Title != pavingTitle {
		t.Fatalf("unexpected items: %+v", items)
	}
	if !reflect.DeepEqual(items[0].Categories, []string{classifier.HMA, classifier.Highway}) {
		t.Fatalf("categories = %v", items[0].Categories)
	}
	h := res.Snapshot.SourceHealth["A"]
	if h.Status != domain.HealthOK || h.Items != 2 || h.Skipped != 1 {
		t.Fatalf("health = %+v", h)
	}
	if p.Stage() != StageDone || store.saves != 1 {
		t.Fatalf("stage=%v saves=%d", p.Stage(), store.saves)
	}
	if items[0].Priority != classifier.PriorityHigh || res.Snapshot.Stats.ByPriority[classifier.PriorityHigh] != 1 {
		t.Fatalf("priority = %q, by_priority = %v", items[0].Priority, res.Snapshot.Stats.ByPriority)
	}
}

func TestRunWalksEveryStage(t *testing.T) {
	f := &fakeFetcher{bodies: map[string]string{
		"A": rss(entry{pavingTitle, "https://example.com/news/route-7", "Thu, 09 Jan 2025 10:00:00 GMT"}),
	}}
	p := newPipeline(t, []domain.Source{feedSource("A", "VT")}, f, &memStore{})
	var seen []Stage
	p.OnStage = func(s Stage) { seen = append(seen, s) }

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	want := []Stage{StageFetching, StageExtracting, StageClassifying, StageDeduplicating, StageWriting, StageDone}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("stages = %v, want %v", seen, want)
	}

	// a run that cannot publish falls back to idle
	f.errs = map[string]error{"A": &collector.HTTPError{Status: 503}}
	p.Store = &memStore{}
	seen = nil
	if _, err := p.Run(context.Background()); !errors.Is(err, snapshot.ErrNothingToPublish) {
		t.Fatalf("expected ErrNothingToPublish, got %v", err)
	}
	want = []Stage{StageFetching, StageExtracting, StageClassifying, StageDeduplicating, StageIdle}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("stages = %v, want %v", seen, want)
	}
}

func TestRunCollapsesTrackingParameters(t *testing.T) {
	date := "Thu, 09 Jan 2025 10:00:00 GMT"
	f := &fakeFetcher{bodies: map[string]string{
		"A": rss(entry{"Town X bridge rehabilitation bid opening", "https://example.com/bids/town-x?utm_source=a", date}),
		"B": rss(entry{"Town X bridge rehabilitation bid opening", "https://example.com/bids/town-x?utm_source=b&amp;fbclid=xyz", date}),
	}}
	p := newPipeline(t, []domain.Source{feedSource("A", "VT"), feedSource("B", "VT")}, f, &memStore{})

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(res.Snapshot.Items) != 1 {
		t.Fatalf("expected one merged item, got %+v", res.Snapshot.Items)
	}
	it := res.Snapshot.Items[0]
	if !reflect.DeepEqual(it.Sources, []string{"A", "B"}) || it.Link != "https://example.com/bids/town-x" {
		t.Fatalf("merged item = %+v", it)
	}
}

func TestRunRedesignedPageIsEmptyAndRetainsItems(t *testing.T) {
	page := domain.Source{
		Name: "DOT", Category: domain.CategoryPage, URL: "https://dot.example.gov/bids", State: "NH", Kind: "bids",
		Options: map[string]string{"container": "#bids"},
	}
	yesterday := fixedNow.Add(-24 * time.Hour)
	prev := &domain.Snapshot{
		Version: domain.SchemaVersion,
		Items: []domain.ClassifiedItem{{
			ID: "old-bid", Title: "Route 101 bridge bid opening", Link: "https://dot.example.gov/bid/1",
			Timestamp: &yesterday, State: "NH", Categories: []string{classifier.Highway}, Score: 6, Sources: []string{"DOT"}, Kind: "bid",
		}},
	}
	store := &memStore{}
	payload, _ := prev.Encode()
	_ = store.Save(payload)

	f := &fakeFetcher{bodies: map[string]string{
		"A":   rss(entry{pavingTitle, "https://example.com/news/route-7", "Thu, 09 Jan 2025 10:00:00 GMT"}),
		"DOT": `<html><body><main class="new-layout"><a href="/x">Route 101 bridge bid opening</a></main></body></html>`,
	}}
	p := newPipeline(t, []domain.Source{feedSource("A", "VT"), page}, f, store)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	h := res.Snapshot.SourceHealth["DOT"]
	if h.Status != domain.HealthEmpty || !strings.Contains(h.Detail, "#bids") {
		t.Fatalf("redesigned page health = %+v", h)
	}
	var found bool
	for _, it := range res.Snapshot.Items {
		if it.ID == "old-bid" {
			found = true
		}
	}
	if !found || len(res.Snapshot.Items) != 2 {
		t.Fatalf("retained item missing: %+v", res.Snapshot.Items)
	}
}

func TestRunBudgetMarksTimeouts(t *testing.T) {
	f := &fakeFetcher{
		bodies: map[string]string{"A": rss(entry{pavingTitle, "https://example.com/news/route-7", "Thu, 09 Jan 2025 10:00:00 GMT"})},
		block:  map[string]bool{"Slow": true},
	}
	srcs := []domain.Source{feedSource("A", "VT"), feedSource("Slow", "NH"), feedSource("Late", "ME")}
	p := newPipeline(t, srcs, f, &memStore{})
	p.Concurrency = 1
	p.Budget = 200 * time.Millisecond

	start := time.Now()
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("run outlived its budget: %v", time.Since(start))
	}
	health := res.Snapshot.SourceHealth
	if health["A"].Status != domain.HealthOK {
		t.Fatalf("A = %+v", health["A"])
	}
	if health["Slow"].Status != domain.HealthFailed || health["Slow"].Detail != DetailTimeout {
		t.Fatalf("Slow = %+v", health["Slow"])
	}
	if health["Late"].Status != domain.HealthFailed || health["Late"].Detail != DetailTimeoutBeforeStart {
		t.Fatalf("Late = %+v", health["Late"])
	}
	if len(res.Snapshot.Items) != 1 {
		t.Fatalf("items = %+v", res.Snapshot.Items)
	}
}

func TestRunIsByteIdenticalUnderFixedClock(t *testing.T) {
	f := &fakeFetcher{bodies: map[string]string{
		"A": rss(
			entry{pavingTitle, "https://example.com/news/route-7", "Thu, 09 Jan 2025 10:00:00 GMT"},
			entry{"Quarry expansion approved for aggregate supply", "https://example.com/news/quarry", "Wed, 08 Jan 2025 09:00:00 GMT"},
		),
		"B": rss(entry{"Interstate 89 bridge rehabilitation bid announced", "https://b.example.com/i89", "Thu, 09 Jan 2025 08:00:00 GMT"}),
	}}
	store := &memStore{}
	p := newPipeline(t, []domain.Source{feedSource("A", "VT"), feedSource("B", "NH")}, f, store)

	first, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run error: %v", err)
	}
	second, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run error: %v", err)
	}
	if !bytes.Equal(first.Payload, second.Payload) {
		t.Fatalf("re-run differs:\n%s\n---\n%s", first.Payload, second.Payload)
	}
	if first.RunID == second.RunID {
		t.Fatalf("run ids should differ")
	}
}

func TestRunAllFailedCarriesForward(t *testing.T) {
	store := &memStore{}
	ok := &fakeFetcher{bodies: map[string]string{
		"A": rss(entry{pavingTitle, "https://example.com/news/route-7", "Thu, 09 Jan 2025 10:00:00 GMT"}),
	}}
	srcs := []domain.Source{feedSource("A", "VT"), feedSource("B", "NH")}
	p := newPipeline(t, srcs, ok, store)
	first, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run error: %v", err)
	}

	later := fixedNow.Add(time.Hour)
	p.Now = func() time.Time { return later }
	p.Fetcher = &fakeFetcher{errs: map[string]error{
		"A": &collector.HTTPError{Status: 503},
		"B": &collector.NetworkError{Err: errors.New("connection refused")},
	}}
	second, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run error: %v", err)
	}
	if !reflect.DeepEqual(second.Snapshot.Items, first.Snapshot.Items) {
		t.Fatalf("items not carried forward: %+v", second.Snapshot.Items)
	}
	if !second.Snapshot.GeneratedAt.Equal(later) {
		t.Fatalf("generated_at not refreshed: %v", second.Snapshot.GeneratedAt)
	}
	if second.Snapshot.SourceHealth["A"].Detail != "http 503" || second.Snapshot.Stats.Summary != "2 of 2 sources failed" {
		t.Fatalf("health = %+v stats = %+v", second.Snapshot.SourceHealth, second.Snapshot.Stats)
	}
}

func TestRunAllFailedWithoutPreviousWritesNothing(t *testing.T) {
	store := &memStore{}
	f := &fakeFetcher{errs: map[string]error{"A": &collector.HTTPError{Status: 404}}}
	p := newPipeline(t, []domain.Source{feedSource("A", "VT")}, f, store)

	if _, err := p.Run(context.Background()); !errors.Is(err, snapshot.ErrNothingToPublish) {
		t.Fatalf("expected ErrNothingToPublish, got %v", err)
	}
	if store.saves != 0 {
		t.Fatalf("nothing should be written, saves=%d", store.saves)
	}
	if p.Stage() != StageIdle {
		t.Fatalf("stage = %v, want idle", p.Stage())
	}
}

func TestRunPublisherFailureIsNotFatal(t *testing.T) {
	f := &fakeFetcher{bodies: map[string]string{
		"A": rss(entry{pavingTitle, "https://example.com/news/route-7", "Thu, 09 Jan 2025 10:00:00 GMT"}),
	}}
	broken := &recordingPublisher{err: errors.New("redis down")}
	good := &recordingPublisher{}
	p := newPipeline(t, []domain.Source{feedSource("A", "VT")}, f, &memStore{})
	p.Publishers = []Publisher{broken, good}

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(good.runs) != 1 || good.runs[0] != res.RunID || len(broken.runs) != 1 {
		t.Fatalf("publishers not called: %v %v", good.runs, broken.runs)
	}
}

func TestRunOverHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rss(entry{pavingTitle, "https://example.com/news/route-7?utm_medium=rss", "Thu, 09 Jan 2025 10:00:00 GMT"})))
	})
	mux.HandleFunc("/bids", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><nav><a href="/">Home</a></nav><div id="bids">
<a href="/bid/101">Route 7 bridge replacement bid opening</a>
<a href="/privacy">Privacy policy for contract bidders</a>
</div></body></html>`))
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	srcs := []domain.Source{
		{Name: "News", Category: domain.CategoryFeed, URL: srv.URL + "/feed", State: "VT"},
		{Name: "DOT", Category: domain.CategoryPage, URL: srv.URL + "/bids", State: "VT", Kind: "bids", Options: map[string]string{"container": "#bids"}},
		{Name: "Gone", Category: domain.CategoryFeed, URL: srv.URL + "/down", State: "ME", TolerateFailures: true},
	}
	reg, err := domain.NewRegistry(srcs)
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	fetcher, err := collector.NewHTTPFetcher(collector.Options{Timeout: 2 * time.Second, Hosts: reg.Hosts()}, logging.Discard())
	if err != nil {
		t.Fatalf("NewHTTPFetcher error: %v", err)
	}
	p := newPipeline(t, srcs, fetcher, &memStore{})

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	health := res.Snapshot.SourceHealth
	if health["News"].Status != domain.HealthOK || health["DOT"].Status != domain.HealthOK {
		t.Fatalf("health = %+v", health)
	}
	if health["Gone"].Status != domain.HealthFailed || health["Gone"].Detail != "http 404" {
		t.Fatalf("Gone = %+v", health["Gone"])
	}
	if health["DOT"].Items != 1 {
		t.Fatalf("DOT should yield one listing, got %+v", health["DOT"])
	}
	if len(res.Snapshot.Items) != 2 {
		t.Fatalf("items = %+v", res.Snapshot.Items)
	}
}
