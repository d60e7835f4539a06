/*
Copyright 2025 Kunpeto.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sheets reads schedule tabs from Google Sheets. Each department has
// its own service-account-backed service and its own circuit breaker, so a
// broken tenant cannot starve the other one.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/pkg/credentials"
)

var (
	// ErrNotFound reports a missing spreadsheet or tab.
	ErrNotFound = errors.New("sheets: spreadsheet or tab not found")
	// ErrPermissionDenied reports that the service account cannot read the
	// spreadsheet.
	ErrPermissionDenied = errors.New("sheets: permission denied")
	// ErrUpstreamUnavailable reports a transient upstream failure, including
	// an open circuit breaker.
	ErrUpstreamUnavailable = errors.New("sheets: upstream unavailable")
)

// breaker posture: open after 5 consecutive upstream failures, probe again
// after 30 seconds.
const (
	breakerTripCount = 5
	breakerTimeout   = 30 * time.Second
)

// Reader is the read surface the sync orchestrator depends on.
type Reader interface {
	ReadTab(ctx context.Context, dept domain.Department, spreadsheetID, tab string) ([][]string, error)
}

// Client reads spreadsheet tabs with per-department services and breakers.
type Client struct {
	svcs     map[domain.Department]*gsheets.Service
	breakers map[domain.Department]*gobreaker.CircuitBreaker
	log      *zap.Logger
}

// New builds a service per configured department from the service-account
// store.
func New(ctx context.Context, accounts *credentials.ServiceAccounts, logger *zap.Logger) (*Client, error) {
	svcs := map[domain.Department]*gsheets.Service{}
	for _, dept := range domain.Departments() {
		if !accounts.Has(dept) {
			continue
		}
		ts, err := accounts.TokenSource(dept)
		if err != nil {
			return nil, err
		}
		svc, err := gsheets.NewService(ctx, option.WithTokenSource(ts))
		if err != nil {
			return nil, fmt.Errorf("sheets: service for %s: %w", dept, err)
		}
		svcs[dept] = svc
	}
	return NewFromServices(svcs, logger), nil
}

// NewFromServices wires a client over pre-built services. Tests use it with
// services pointed at a local fixture server.
func NewFromServices(svcs map[domain.Department]*gsheets.Service, logger *zap.Logger) *Client {
	c := &Client{
		svcs:     svcs,
		breakers: map[domain.Department]*gobreaker.CircuitBreaker{},
		log:      logger.Named("sheets"),
	}
	for dept := range svcs {
		c.breakers[dept] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "sheets-" + string(dept),
			MaxRequests: 1,
			Timeout:     breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerTripCount
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.log.Warn("breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}
	return c
}

// readResult carries caller-class errors through the breaker without
// counting them as upstream failures.
type readResult struct {
	values [][]string
	err    error
}

// ReadTab fetches every populated cell of the named tab as formatted strings.
func (c *Client) ReadTab(ctx context.Context, dept domain.Department, spreadsheetID, tab string) ([][]string, error) {
	svc, ok := c.svcs[dept]
	if !ok {
		return nil, fmt.Errorf("%w: no service account for %s", credentials.ErrNotAuthorized, dept)
	}
	cb := c.breakers[dept]

	v, err := cb.Execute(func() (any, error) {
		resp, err := svc.Spreadsheets.Values.Get(spreadsheetID, tab).Context(ctx).Do()
		if err != nil {
			cls := classify(err)
			if errors.Is(cls, ErrUpstreamUnavailable) {
				return nil, cls
			}
			// 404/403 are terminal for the caller but healthy upstream.
			return readResult{err: cls}, nil
		}
		return readResult{values: stringify(resp.Values)}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open for %s", ErrUpstreamUnavailable, dept)
		}
		return nil, err
	}
	res := v.(readResult)
	if res.err != nil {
		return nil, res.err
	}
	return res.values, nil
}

// classify maps a Google API error onto the package sentinels.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, gerr.Message)
		case gerr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrPermissionDenied, gerr.Message)
		case gerr.Code == http.StatusBadRequest:
			// The Sheets API reports an unknown tab as 400 "Unable to parse
			// range".
			return fmt.Errorf("%w: %s", ErrNotFound, gerr.Message)
		}
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

func stringify(values [][]any) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprint(v)
		}
		out[i] = cells
	}
	return out
}
