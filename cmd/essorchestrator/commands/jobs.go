package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/eventstore"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/orchestrator"
)

const clientTimeout = 30 * time.Second

// SubmitCmd implements the 'submit' command.
type SubmitCmd struct {
	DataStandard  string   `arg:"" help:"Data standard to build (S57, S63 or S100)"`
	Product       []string `short:"p" help:"Restrict the build to these products (repeatable)"`
	Since         string   `help:"Only include changes after this RFC 3339 timestamp"`
	Force         bool     `short:"f" help:"Build even when the catalogue has not advanced"`
	JobID         string   `help:"Caller-chosen job id (UUID); resubmitting the same id is a no-op"`
	CorrelationID string   `help:"Correlation id propagated to logs and events"`
}

func (s *SubmitCmd) Run(g *Global, root *CLI) error {
	req, err := s.request()
	if err != nil {
		return err
	}
	resp, err := newAPIClient(root.Server, clientTimeout).submit(context.Background(), req)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(g.Out, resp.JobID)
	return err
}

func (s *SubmitCmd) request() (orchestrator.Request, error) {
	req := orchestrator.Request{
		JobID:         s.JobID,
		CorrelationID: s.CorrelationID,
		DataStandard:  s.DataStandard,
		ProductFilter: s.Product,
		Force:         s.Force,
	}
	if s.Since != "" {
		since, err := time.Parse(time.RFC3339, s.Since)
		if err != nil {
			return req, errors.ValidationError("--since must be an RFC 3339 timestamp").
				WithCause(err).
				WithContext("since", s.Since).
				Build()
		}
		req.Since = &since
	}
	return req, nil
}

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	JobID string `arg:"" help:"Job id"`
}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	var st orchestrator.Status
	if err := newAPIClient(root.Server, clientTimeout).do(context.Background(), http.MethodGet,
		"/api/v1/jobs/"+url.PathEscape(s.JobID), nil, nil, &st); err != nil {
		return err
	}
	return printJSON(g.Out, st)
}

// EventsCmd implements the 'events' command.
type EventsCmd struct {
	JobID string `arg:"" help:"Job id"`
}

func (e *EventsCmd) Run(g *Global, root *CLI) error {
	var timeline []eventstore.TimelineEntry
	if err := newAPIClient(root.Server, clientTimeout).do(context.Background(), http.MethodGet,
		"/api/v1/jobs/"+url.PathEscape(e.JobID)+"/events", nil, nil, &timeline); err != nil {
		return err
	}
	for _, entry := range timeline {
		if _, err := fmt.Fprintf(g.Out, "%s  %-20s %s\n",
			entry.Timestamp.UTC().Format(time.RFC3339), entry.Type, string(entry.Payload)); err != nil {
			return err
		}
	}
	return nil
}

// ListCmd implements the 'list' command.
type ListCmd struct {
	DataStandard string `help:"Only jobs for this data standard"`
	State        string `help:"Only jobs in this state"`
	Limit        int    `help:"Maximum number of jobs" default:"50"`
}

func (l *ListCmd) Run(g *Global, root *CLI) error {
	query := url.Values{}
	if l.DataStandard != "" {
		query.Set("data_standard", l.DataStandard)
	}
	if l.State != "" {
		query.Set("state", l.State)
	}
	if l.Limit > 0 {
		query.Set("limit", strconv.Itoa(l.Limit))
	}

	var list []*jobs.Job
	if err := newAPIClient(root.Server, clientTimeout).do(context.Background(), http.MethodGet,
		"/api/v1/jobs", query, nil, &list); err != nil {
		return err
	}
	for _, j := range list {
		if _, err := fmt.Fprintf(g.Out, "%s  %-5s %-12s %s\n",
			j.ID, j.DataStandard, j.State, j.UpdatedAt.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return nil
}

// TriggerCmd implements the 'trigger' command.
type TriggerCmd struct {
	Standards []string `arg:"" optional:"" help:"Data standards to trigger (default: every served standard)"`
}

func (t *TriggerCmd) Run(g *Global, root *CLI) error {
	resp, err := newAPIClient(root.Server, clientTimeout).trigger(context.Background(), t.Standards)
	if err != nil {
		return err
	}
	for _, id := range resp.JobIDs {
		if _, err := fmt.Fprintln(g.Out, id); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
