// Copyright 2026 Deskmate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package accesstool implements time-boxed elevated access requests for
// a fixed catalogue of directory groups. Requests are stored in a
// reference store under the "access" kind and start life pending
// approval.
package accesstool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/deskmate-ai/deskmate/refstore"
	"github.com/deskmate-ai/deskmate/tool"
	"github.com/deskmate-ai/deskmate/tool/functiontool"
)

const (
	// Kind is the reference store record kind for access requests.
	Kind = "access"

	// StatusPending is the initial request status.
	StatusPending = "Pending Approval"

	dateLayout    = "2006-01-02"
	maxWindowDays = 30
)

// adGroups is the catalogue of groups that can be requested.
var adGroups = map[string]string{
	"prod-db-readonly": "Read-only access to production databases",
	"prod-deploy":      "Permission to trigger production deployments",
	"vpn-thirdparty":   "VPN access to approved third-party networks",
	"finance-reports":  "Access to the finance reporting dashboards",
}

// Tools returns the access request tools backed by store. now supplies
// the validation clock and defaults to time.Now.
func Tools(store refstore.Store, now func() time.Time) ([]tool.Tool, error) {
	if store == nil {
		return nil, fmt.Errorf("reference store is required")
	}
	if now == nil {
		now = time.Now
	}
	svc := &service{store: store, now: now}

	raise, err := functiontool.New(
		functiontool.Config{
			Name: "access_request_raise",
			Description: "Request time-boxed elevated access to a directory group. Requires an " +
				"employee ID, the group name, and a start and end date no more than 30 days apart.",
		},
		svc.raise,
	)
	if err != nil {
		return nil, err
	}

	status, err := functiontool.New(
		functiontool.Config{
			Name:        "access_request_status",
			Description: "Check the status of an existing access request by its reference.",
		},
		svc.status,
	)
	if err != nil {
		return nil, err
	}

	return []tool.Tool{raise, status}, nil
}

type service struct {
	store refstore.Store
	now   func() time.Time
}

// RaiseArgs are the parameters for raising an access request.
type RaiseArgs struct {
	Employee  string `json:"employee" jsonschema:"required,description=Employee ID of the requester"`
	ADGroup   string `json:"ad_group,omitempty" jsonschema:"description=Directory group to request; omit to list available groups"`
	StartDate string `json:"start_date,omitempty" jsonschema:"description=First day access is needed in YYYY-MM-DD format"`
	EndDate   string `json:"end_date,omitempty" jsonschema:"description=Last day access is needed in YYYY-MM-DD format"`
	Reason    string `json:"reason,omitempty" jsonschema:"description=Business justification for the access"`
}

func (s *service) raise(ctx context.Context, args RaiseArgs) (any, error) {
	employee := strings.ToUpper(strings.TrimSpace(args.Employee))
	if employee == "" {
		return "Please supply your employee ID to raise an access request.", nil
	}

	group := strings.ToLower(strings.TrimSpace(args.ADGroup))
	if group == "" {
		return "Which group do you need access to?\n\n" + groupCatalogue(), nil
	}
	if _, ok := adGroups[group]; !ok {
		return fmt.Sprintf("%q is not a group I can request access to.\n\n%s", group, groupCatalogue()), nil
	}

	if strings.TrimSpace(args.StartDate) == "" || strings.TrimSpace(args.EndDate) == "" {
		return "Please provide both a start date and an end date in YYYY-MM-DD format.", nil
	}

	start, err := time.Parse(dateLayout, strings.TrimSpace(args.StartDate))
	if err != nil {
		return fmt.Sprintf("I could not read %q as a start date. Please use YYYY-MM-DD.", args.StartDate), nil
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(args.EndDate))
	if err != nil {
		return fmt.Sprintf("I could not read %q as an end date. Please use YYYY-MM-DD.", args.EndDate), nil
	}

	today := s.now().Truncate(24 * time.Hour)
	if !start.After(today) {
		return "The start date must be in the future.", nil
	}
	if end.Before(start) {
		return "The end date must be on or after the start date.", nil
	}
	if end.Sub(start) > maxWindowDays*24*time.Hour {
		return fmt.Sprintf("Access windows are limited to %d days. Please narrow the date range.", maxWindowDays), nil
	}

	fields := map[string]any{
		"employee":   employee,
		"ad_group":   group,
		"start_date": start.Format(dateLayout),
		"end_date":   end.Format(dateLayout),
	}
	if reason := strings.TrimSpace(args.Reason); reason != "" {
		fields["reason"] = reason
	}

	rec, err := s.store.Create(ctx, Kind, StatusPending, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to raise access request: %w", err)
	}

	return fmt.Sprintf("Access request %s raised for %s to join %s from %s to %s. It is now pending approval.",
		rec.Ref, employee, group, start.Format(dateLayout), end.Format(dateLayout)), nil
}

// StatusArgs identify an existing access request.
type StatusArgs struct {
	Reference string `json:"reference" jsonschema:"required,description=The access request reference returned when it was raised"`
}

func (s *service) status(ctx context.Context, args StatusArgs) (any, error) {
	ref := strings.TrimSpace(args.Reference)
	if ref == "" {
		return "Please supply the access request reference.", nil
	}

	rec, err := s.store.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, refstore.ErrNotFound) {
			return "No access request was found with that reference.", nil
		}
		return nil, err
	}

	employee, _ := rec.Fields["employee"].(string)
	group, _ := rec.Fields["ad_group"].(string)
	startDate, _ := rec.Fields["start_date"].(string)
	endDate, _ := rec.Fields["end_date"].(string)
	return fmt.Sprintf("Request %s | Status: %s | Employee: %s | Group: %s | Window: %s to %s",
		rec.Ref, rec.Status, employee, group, startDate, endDate), nil
}

func groupCatalogue() string {
	names := make([]string, 0, len(adGroups))
	for name := range adGroups {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Available groups:")
	for _, name := range names {
		fmt.Fprintf(&b, "\n- %s: %s", name, adGroups[name])
	}
	return b.String()
}
