package commands

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/exchangeset/internal/api"
	"git.home.luguber.info/inful/exchangeset/internal/config"
	"git.home.luguber.info/inful/exchangeset/internal/eventstore"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/orchestrator"
	"git.home.luguber.info/inful/exchangeset/internal/store"
)

type fakeJobs struct {
	accepted  []orchestrator.Request
	triggered []jobs.DataStandard
	listOpts  store.ListOptions
	jobs      map[string]*jobs.Job
}

func (f *fakeJobs) Accept(_ context.Context, req orchestrator.Request) (string, error) {
	if _, err := jobs.ParseDataStandard(req.DataStandard); err != nil {
		return "", err
	}
	f.accepted = append(f.accepted, req)
	return "job-1", nil
}

func (f *fakeJobs) Trigger(context.Context) ([]string, error) {
	return []string{"job-s57", "job-s63"}, nil
}

func (f *fakeJobs) TriggerStandards(_ context.Context, dss []jobs.DataStandard) ([]string, error) {
	f.triggered = append(f.triggered, dss...)
	ids := make([]string, 0, len(dss))
	for _, ds := range dss {
		ids = append(ids, "job-"+ds.Slug())
	}
	return ids, nil
}

func (f *fakeJobs) Status(_ context.Context, id string) (*orchestrator.Status, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, errors.NotFoundError("job not found").WithContext("job_id", id).Build()
	}
	return &orchestrator.Status{Job: j, Consistent: true}, nil
}

func (f *fakeJobs) List(_ context.Context, opts store.ListOptions) ([]*jobs.Job, error) {
	f.listOpts = opts
	out := make([]*jobs.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeJobs) Events(context.Context, string) ([]eventstore.TimelineEntry, error) {
	return []eventstore.TimelineEntry{
		{Type: eventstore.TypeJobAccepted, Timestamp: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	}, nil
}

func newTestAPI(t *testing.T) (*fakeJobs, *CLI, *Global, *bytes.Buffer) {
	t.Helper()
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakeJobs{jobs: map[string]*jobs.Job{
		"job-1": jobs.NewJob("job-1", "corr-1", jobs.S57, nil, now),
	}}
	srv := httptest.NewServer(api.NewServer("", svc).Handler())
	t.Cleanup(srv.Close)

	cli := &CLI{Server: srv.URL}
	g := cli.Global()
	out := &bytes.Buffer{}
	g.Out = out
	return svc, cli, g, out
}

func TestSubmitCmd(t *testing.T) {
	svc, cli, g, out := newTestAPI(t)

	cmd := &SubmitCmd{DataStandard: "s63", Product: []string{"GB100001"}, Since: "2024-01-01T00:00:00Z", Force: true}
	require.NoError(t, cmd.Run(g, cli))

	assert.Equal(t, "job-1\n", out.String())
	require.Len(t, svc.accepted, 1)
	req := svc.accepted[0]
	assert.Equal(t, "s63", req.DataStandard)
	assert.Equal(t, []string{"GB100001"}, req.ProductFilter)
	assert.True(t, req.Force)
	require.NotNil(t, req.Since)
	assert.True(t, req.Since.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestSubmitCmd_InvalidSince(t *testing.T) {
	_, err := (&SubmitCmd{DataStandard: "S57", Since: "yesterday"}).request()
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
}

func TestSubmitCmd_ServerValidationKeepsCategory(t *testing.T) {
	_, cli, g, _ := newTestAPI(t)

	err := (&SubmitCmd{DataStandard: "S999"}).Run(g, cli)
	require.Error(t, err)
	assert.Equal(t, 2, errors.NewCLIErrorAdapter(false).ExitCodeFor(err))
}

func TestStatusCmd(t *testing.T) {
	_, cli, g, out := newTestAPI(t)

	require.NoError(t, (&StatusCmd{JobID: "job-1"}).Run(g, cli))
	assert.Contains(t, out.String(), `"id": "job-1"`)
	assert.Contains(t, out.String(), `"consistent": true`)
}

func TestStatusCmd_NotFound(t *testing.T) {
	_, cli, g, _ := newTestAPI(t)

	err := (&StatusCmd{JobID: "missing"}).Run(g, cli)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
	assert.Equal(t, 3, errors.NewCLIErrorAdapter(false).ExitCodeFor(err))
}

func TestListCmd(t *testing.T) {
	svc, cli, g, out := newTestAPI(t)

	require.NoError(t, (&ListCmd{DataStandard: "S57", State: "created", Limit: 10}).Run(g, cli))
	assert.Equal(t, jobs.S57, svc.listOpts.DataStandard)
	assert.Equal(t, jobs.StateCreated, svc.listOpts.State)
	assert.Equal(t, 10, svc.listOpts.Limit)
	assert.Contains(t, out.String(), "job-1")
}

func TestEventsAndTriggerCmd(t *testing.T) {
	_, cli, g, out := newTestAPI(t)

	require.NoError(t, (&EventsCmd{JobID: "job-1"}).Run(g, cli))
	assert.Contains(t, out.String(), eventstore.TypeJobAccepted)

	out.Reset()
	require.NoError(t, (&TriggerCmd{}).Run(g, cli))
	assert.Equal(t, "job-s57\njob-s63\n", out.String())
}

func TestTriggerCmdWithStandards(t *testing.T) {
	svc, cli, g, out := newTestAPI(t)

	require.NoError(t, (&TriggerCmd{Standards: []string{"s-100", "S57"}}).Run(g, cli))
	assert.Equal(t, []jobs.DataStandard{jobs.S100, jobs.S57}, svc.triggered)
	assert.Equal(t, "job-"+jobs.S100.Slug()+"\njob-"+jobs.S57.Slug()+"\n", out.String())

	err := (&TriggerCmd{Standards: []string{"S101"}}).Run(g, cli)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
	assert.Len(t, svc.triggered, 2)
}

func TestUnreachableServerIsNetworkError(t *testing.T) {
	cli := &CLI{Server: "http://127.0.0.1:1"}
	err := (&TriggerCmd{}).Run(cli.Global(), cli)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNetwork))
}

func TestKongParsing(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Vars{"version": "test"})
	require.NoError(t, err)

	ctx, err := parser.Parse([]string{"-c", "ess.yaml", "submit", "S100", "-p", "A", "-p", "B", "--force"})
	require.NoError(t, err)

	assert.Equal(t, "submit <data-standard>", ctx.Command())
	assert.Equal(t, "ess.yaml", cli.Config)
	assert.Equal(t, "S100", cli.Submit.DataStandard)
	assert.Equal(t, []string{"A", "B"}, cli.Submit.Product)
	assert.True(t, cli.Submit.Force)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("ESS_CATALOGUE_URL", "http://catalogue.test")

	require.NoError(t, writeDefaultConfig(path, false))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://catalogue.test", cfg.Upstream.CatalogueURL)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, config.StorageMemory, cfg.Storage.Driver)

	err = writeDefaultConfig(path, false)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
	require.NoError(t, writeDefaultConfig(path, true))
}

func TestNewRuntime(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Upstream.CatalogueURL = "http://catalogue.test"
	cfg.Upstream.FileServiceURL = "http://files.test"
	cfg.Storage.Driver = config.StorageSQLite
	cfg.Storage.Path = filepath.Join(dir, "data", "orchestrator.db")
	cfg.Events.Enabled = true
	cfg.Events.Path = filepath.Join(dir, "data", "events.db")
	cfg.Server.Enabled = true

	rt, err := newRuntime(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, rt.service)
	require.NotNil(t, rt.server)
	require.NotNil(t, rt.events)

	_, err = os.Stat(cfg.Storage.Path)
	require.NoError(t, err)
	require.NoError(t, rt.Close())
}

func TestNewRuntime_RequiresCatalogue(t *testing.T) {
	_, err := newRuntime(context.Background(), config.Default())
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfig))
}
