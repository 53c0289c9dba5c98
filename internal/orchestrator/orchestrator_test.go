// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dfmorales/rastreo-cli/api/schemas"
	"github.com/dfmorales/rastreo-cli/internal/config"
	"github.com/dfmorales/rastreo-cli/internal/scraper"
)

type fakeScraper struct {
	mu        *sync.Mutex
	events    *[]string
	plate     string
	loginOK   bool
	loginErr  error
	locErr    error
	record    *schemas.LocationRecord
	closed    bool
	closeHook func()
}

func (f *fakeScraper) Login(ctx context.Context, username, password, plate string) (bool, error) {
	f.mu.Lock()
	*f.events = append(*f.events, "login:"+plate)
	f.mu.Unlock()
	return f.loginOK, f.loginErr
}

func (f *fakeScraper) GetVehicleLocation(ctx context.Context, plate string) (*schemas.LocationRecord, error) {
	f.mu.Lock()
	*f.events = append(*f.events, "locate:"+plate)
	f.mu.Unlock()
	if f.locErr != nil {
		return nil, f.locErr
	}
	return f.record, nil
}

func (f *fakeScraper) Close() {
	f.mu.Lock()
	f.closed = true
	*f.events = append(*f.events, "close:"+f.plate)
	f.mu.Unlock()
	if f.closeHook != nil {
		f.closeHook()
	}
}

type fakeFleet struct {
	mu     sync.Mutex
	events []string
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{}
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	// Effectively unthrottled for tests.
	cfg.Orchestrator.LookupsPerMinute = 600000
	return cfg
}

func record(plate string, provider schemas.ProviderID) *schemas.LocationRecord {
	rec := schemas.NewLocationRecord(plate, provider)
	rec.Latitude = 4.6
	rec.Longitude = -74.1
	return rec
}

func TestRunSequentialWithinProviderAndDisposalOrder(t *testing.T) {
	ff := newFakeFleet()

	mk := func(plate string) *fakeScraper {
		return &fakeScraper{
			mu:      &ff.mu,
			events:  &ff.events,
			plate:   plate,
			loginOK: true,
			record:  record(plate, schemas.ProviderMovilsat),
		}
	}
	a, b := mk("ABC123"), mk("DEF456")
	queue := []*fakeScraper{a, b}

	factory := func(ctx context.Context, provider schemas.ProviderID, cfg *config.Config, logger *zap.Logger) (scraper.Scraper, error) {
		ff.mu.Lock()
		defer ff.mu.Unlock()
		s := queue[0]
		queue = queue[1:]
		return s, nil
	}

	o := New(testConfig(), zap.NewNop(), WithFactory(factory))
	vehicles := []schemas.Vehicle{
		{Plate: "ABC123", Provider: schemas.ProviderMovilsat, Credentials: schemas.Credentials{Username: "u", Password: "p"}},
		{Plate: "DEF456", Provider: schemas.ProviderMovilsat, Credentials: schemas.Credentials{Username: "u", Password: "p"}},
	}

	results := o.Run(context.Background(), vehicles)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Equal(t, "ABC123", results[0].Record.Plate)

	// The first vehicle's scraper must be fully disposed before the second
	// vehicle's lifecycle starts.
	assert.Equal(t, []string{
		"login:ABC123", "locate:ABC123", "close:ABC123",
		"login:DEF456", "locate:DEF456", "close:DEF456",
	}, ff.events)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestRunServerDownAbortsProviderBatch(t *testing.T) {
	ff := newFakeFleet()
	serverDown := schemas.NewServerDown("movilsat.health", "502 bad gateway")

	mk := func(plate string, locErr error) *fakeScraper {
		return &fakeScraper{
			mu:      &ff.mu,
			events:  &ff.events,
			plate:   plate,
			loginOK: true,
			locErr:  locErr,
			record:  record(plate, schemas.ProviderMovilsat),
		}
	}
	queue := []*fakeScraper{mk("ABC123", serverDown), mk("DEF456", nil)}

	factory := func(ctx context.Context, provider schemas.ProviderID, cfg *config.Config, logger *zap.Logger) (scraper.Scraper, error) {
		ff.mu.Lock()
		defer ff.mu.Unlock()
		s := queue[0]
		queue = queue[1:]
		return s, nil
	}

	o := New(testConfig(), zap.NewNop(), WithFactory(factory))
	vehicles := []schemas.Vehicle{
		{Plate: "ABC123", Provider: schemas.ProviderMovilsat, Credentials: schemas.Credentials{Username: "u", Password: "p"}},
		{Plate: "DEF456", Provider: schemas.ProviderMovilsat, Credentials: schemas.Credentials{Username: "u", Password: "p"}},
	}

	results := o.Run(context.Background(), vehicles)
	require.Len(t, results, 2)
	assert.True(t, schemas.IsServerDown(results[0].Err))
	assert.True(t, schemas.IsServerDown(results[1].Err), "remaining batch entries inherit the outage")

	// The second scraper must never have been built or driven.
	for _, ev := range ff.events {
		assert.NotContains(t, ev, "DEF456")
	}
	assert.Len(t, queue, 1, "no scraper built for the aborted entry")
}

func TestRunFailedLoginContinuesBatch(t *testing.T) {
	ff := newFakeFleet()

	mk := func(plate string, loginOK bool) *fakeScraper {
		return &fakeScraper{
			mu:      &ff.mu,
			events:  &ff.events,
			plate:   plate,
			loginOK: loginOK,
			record:  record(plate, schemas.ProviderMovilsat),
		}
	}
	queue := []*fakeScraper{mk("ABC123", false), mk("DEF456", true)}

	factory := func(ctx context.Context, provider schemas.ProviderID, cfg *config.Config, logger *zap.Logger) (scraper.Scraper, error) {
		ff.mu.Lock()
		defer ff.mu.Unlock()
		s := queue[0]
		queue = queue[1:]
		return s, nil
	}

	o := New(testConfig(), zap.NewNop(), WithFactory(factory))
	vehicles := []schemas.Vehicle{
		{Plate: "ABC123", Provider: schemas.ProviderMovilsat, Credentials: schemas.Credentials{Username: "u", Password: "p"}},
		{Plate: "DEF456", Provider: schemas.ProviderMovilsat, Credentials: schemas.Credentials{Username: "u", Password: "p"}},
	}

	results := o.Run(context.Background(), vehicles)
	require.Error(t, results[0].Err)
	assert.Equal(t, schemas.FailureTransient, schemas.KindOf(results[0].Err))
	require.NoError(t, results[1].Err)
	assert.Equal(t, "DEF456", results[1].Record.Plate)
}

func TestRunPersistsSuccessfulRecords(t *testing.T) {
	ff := newFakeFleet()
	s := &fakeScraper{
		mu:      &ff.mu,
		events:  &ff.events,
		plate:   "ABC123",
		loginOK: true,
		record:  record("ABC123", schemas.ProviderMovilsat),
	}

	var persisted []string
	var pmu sync.Mutex
	o := New(testConfig(), zap.NewNop(),
		WithFactory(func(ctx context.Context, provider schemas.ProviderID, cfg *config.Config, logger *zap.Logger) (scraper.Scraper, error) {
			return s, nil
		}),
		WithPersister(func(ctx context.Context, rec *schemas.LocationRecord) error {
			pmu.Lock()
			persisted = append(persisted, rec.Plate)
			pmu.Unlock()
			return nil
		}),
	)

	results := o.Run(context.Background(), []schemas.Vehicle{
		{Plate: "ABC123", Provider: schemas.ProviderMovilsat, Credentials: schemas.Credentials{Username: "u", Password: "p"}},
	})
	require.NoError(t, results[0].Err)
	assert.Equal(t, []string{"ABC123"}, persisted)
}

func TestRunProvidersRunConcurrently(t *testing.T) {
	ff := newFakeFleet()

	release := make(chan struct{})
	started := make(chan string, 2)

	factory := func(ctx context.Context, provider schemas.ProviderID, cfg *config.Config, logger *zap.Logger) (scraper.Scraper, error) {
		started <- string(provider)
		<-release
		return &fakeScraper{
			mu:      &ff.mu,
			events:  &ff.events,
			plate:   "X",
			loginOK: true,
			record:  record("ABC123", provider),
		}, nil
	}

	o := New(testConfig(), zap.NewNop(), WithFactory(factory))
	done := make(chan []Result, 1)
	go func() {
		done <- o.Run(context.Background(), []schemas.Vehicle{
			{Plate: "ABC123", Provider: schemas.ProviderMovilsat, Credentials: schemas.Credentials{Username: "u", Password: "p"}},
			{Plate: "DEF456", Provider: schemas.ProviderGeotrack, Credentials: schemas.Credentials{Username: "u", Password: "p"}},
		})
	}()

	// Both provider batches must reach their factory before either is
	// released, proving cross-provider concurrency.
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case p := <-started:
			seen[p] = true
		case <-time.After(5 * time.Second):
			t.Fatal("provider batches did not start concurrently")
		}
	}
	close(release)

	results := <-done
	require.Len(t, results, 2)
}

func TestRunCancelledContextMarksRemaining(t *testing.T) {
	ff := newFakeFleet()
	ctx, cancel := context.WithCancel(context.Background())

	s := &fakeScraper{
		mu:      &ff.mu,
		events:  &ff.events,
		plate:   "ABC123",
		loginOK: true,
		record:  record("ABC123", schemas.ProviderMovilsat),
		closeHook: func() {
			cancel()
		},
	}

	o := New(testConfig(), zap.NewNop(),
		WithFactory(func(ctx context.Context, provider schemas.ProviderID, cfg *config.Config, logger *zap.Logger) (scraper.Scraper, error) {
			return s, nil
		}))

	results := o.Run(ctx, []schemas.Vehicle{
		{Plate: "ABC123", Provider: schemas.ProviderMovilsat, Credentials: schemas.Credentials{Username: "u", Password: "p"}},
		{Plate: "DEF456", Provider: schemas.ProviderMovilsat, Credentials: schemas.Credentials{Username: "u", Password: "p"}},
	})
	require.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, context.Canceled)
}
