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

// Package speakuptool implements the Speak Up whistleblowing workflow:
// raising a confidential complaint, checking its status, and withdrawing
// it. Records live in a reference store under the "complaint" kind.
package speakuptool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deskmate-ai/deskmate/refstore"
	"github.com/deskmate-ai/deskmate/tool"
	"github.com/deskmate-ai/deskmate/tool/functiontool"
)

const (
	// Kind is the reference store record kind for complaints.
	Kind = "complaint"

	// StatusSubmitted is the initial complaint status.
	StatusSubmitted = "Submitted"
	// StatusWithdrawn marks a complaint withdrawn by its reporter.
	StatusWithdrawn = "Withdrawn"

	minDetailsLen = 25
)

// Tools returns the three Speak Up tools backed by store.
func Tools(store refstore.Store) ([]tool.Tool, error) {
	if store == nil {
		return nil, fmt.Errorf("reference store is required")
	}
	svc := &service{store: store}

	raise, err := functiontool.New(
		functiontool.Config{
			Name: "speak_up_raise",
			Description: "Raise a confidential Speak Up complaint about workplace misconduct. " +
				"Requires the reporter's employee ID and a detailed description of the concern.",
		},
		svc.raise,
	)
	if err != nil {
		return nil, err
	}

	status, err := functiontool.New(
		functiontool.Config{
			Name:        "speak_up_status",
			Description: "Check the status of an existing Speak Up complaint by its complaint ID.",
		},
		svc.status,
	)
	if err != nil {
		return nil, err
	}

	withdraw, err := functiontool.New(
		functiontool.Config{
			Name: "speak_up_withdraw",
			Description: "Withdraw a Speak Up complaint. Only the original reporter may withdraw " +
				"their own complaint.",
		},
		svc.withdraw,
	)
	if err != nil {
		return nil, err
	}

	return []tool.Tool{raise, status, withdraw}, nil
}

type service struct {
	store refstore.Store
}

// RaiseArgs are the parameters for raising a complaint.
type RaiseArgs struct {
	Reporter string `json:"reporter" jsonschema:"required,description=Employee ID of the person raising the complaint"`
	Accused  string `json:"accused,omitempty" jsonschema:"description=Employee ID of the person the complaint concerns if known"`
	Details  string `json:"details" jsonschema:"required,description=Detailed description of the concern (at least 25 characters)"`
}

func (s *service) raise(ctx context.Context, args RaiseArgs) (any, error) {
	reporter := strings.ToUpper(strings.TrimSpace(args.Reporter))
	if reporter == "" {
		return "Please supply your employee ID so the complaint can be filed confidentially.", nil
	}

	details := strings.TrimSpace(args.Details)
	if len(details) < minDetailsLen {
		return "Please describe your concern in more detail (at least 25 characters) so the investigations team can act on it.", nil
	}

	fields := map[string]any{
		"reporter": reporter,
		"details":  details,
	}
	if accused := strings.ToUpper(strings.TrimSpace(args.Accused)); accused != "" {
		fields["accused"] = accused
	}

	rec, err := s.store.Create(ctx, Kind, StatusSubmitted, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to file complaint: %w", err)
	}

	return fmt.Sprintf("Speak Up complaint %s has been logged. The investigations team will reach out to %s within two business days.",
		rec.Ref, reporter), nil
}

// StatusArgs identify an existing complaint.
type StatusArgs struct {
	ComplaintID string `json:"complaint_id" jsonschema:"required,description=The complaint reference returned when it was raised"`
}

func (s *service) status(ctx context.Context, args StatusArgs) (any, error) {
	rec, err := s.lookup(ctx, args.ComplaintID)
	if err != nil {
		if errors.Is(err, refstore.ErrNotFound) {
			return "No complaint was found with that ID.", nil
		}
		return nil, err
	}

	reporter, _ := rec.Fields["reporter"].(string)
	return fmt.Sprintf("Complaint %s | Status: %s | Filed: %s | Reporter: %s",
		rec.Ref, rec.Status, rec.CreatedAt.Format("2 January 2006"), reporter), nil
}

// WithdrawArgs identify the complaint and the caller.
type WithdrawArgs struct {
	ComplaintID string `json:"complaint_id" jsonschema:"required,description=The complaint reference to withdraw"`
	Reporter    string `json:"reporter" jsonschema:"required,description=Employee ID of the original reporter"`
}

func (s *service) withdraw(ctx context.Context, args WithdrawArgs) (any, error) {
	reporter := strings.ToUpper(strings.TrimSpace(args.Reporter))
	if reporter == "" {
		return "Please supply your employee ID to withdraw a complaint.", nil
	}

	rec, err := s.lookup(ctx, args.ComplaintID)
	if err != nil {
		if errors.Is(err, refstore.ErrNotFound) {
			return "No complaint was found with that ID.", nil
		}
		return nil, err
	}

	if owner, _ := rec.Fields["reporter"].(string); owner != reporter {
		return "Only the original reporter can withdraw this complaint.", nil
	}
	if rec.Status == StatusWithdrawn {
		return fmt.Sprintf("Complaint %s has already been withdrawn.", rec.Ref), nil
	}

	if _, err := s.store.Update(ctx, rec.Ref, StatusWithdrawn, nil); err != nil {
		return nil, fmt.Errorf("failed to withdraw complaint: %w", err)
	}
	return fmt.Sprintf("Complaint %s has been withdrawn. No further action will be taken.", rec.Ref), nil
}

func (s *service) lookup(ctx context.Context, ref string) (*refstore.Record, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, refstore.ErrNotFound
	}
	return s.store.Get(ctx, ref)
}
