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

// Package newstool generates a mock local news digest, one headline per
// category, with the location substituted into headline templates.
package newstool

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/deskmate-ai/deskmate/tool"
	"github.com/deskmate-ai/deskmate/tool/functiontool"
)

type category struct {
	name      string
	templates []string
}

var categories = []category{
	{"Top Headlines", []string{
		"%s council approves new transport investment plan",
		"Record turnout at the %s community festival this weekend",
		"%s named among the fastest growing cities in the region",
	}},
	{"Corporate News", []string{
		"Major employer in %s announces hybrid working expansion",
		"%s tech hub attracts three new startups this quarter",
		"Local manufacturer in %s signs multi-year export deal",
	}},
	{"Finance News", []string{
		"Mortgage approvals in %s rise for the third month running",
		"%s credit unions report strong savings growth",
		"New fintech lending scheme launches for %s small businesses",
	}},
	{"Share Market News", []string{
		"Shares of companies headquartered in %s close higher",
		"Analysts upgrade outlook for %s listed firms",
		"Investor confidence in the %s market steadies after volatile week",
	}},
	{"General News", []string{
		"%s library extends weekend opening hours",
		"Volunteers plant two thousand trees across %s parks",
		"%s schools pilot new coding curriculum",
	}},
}

// Args are the news digest parameters.
type Args struct {
	Location string `json:"location" jsonschema:"required,description=City or place to fetch local news for"`
}

// New creates the get_news tool. A nil rng falls back to a time-seeded
// source; now supplies the digest date and defaults to time.Now.
func New(rng *rand.Rand, now func() time.Time) (tool.Tool, error) {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}

	return functiontool.New(
		functiontool.Config{
			Name:        "get_news",
			Description: "Get a digest of today's local news headlines for a location.",
		},
		func(_ context.Context, args Args) (any, error) {
			place := strings.TrimSpace(args.Location)
			if place == "" {
				return "Please tell me which location you would like news for.", nil
			}
			return Digest(rng, place, now()), nil
		},
	)
}

// Digest renders one headline per category under a dated header.
func Digest(rng *rand.Rand, place string, date time.Time) string {
	title := titleCase(place)

	var b strings.Builder
	fmt.Fprintf(&b, "Local news for %s — %s\n", title, date.Format("2 January 2006"))
	for _, cat := range categories {
		headline := cat.templates[rng.Intn(len(cat.templates))]
		fmt.Fprintf(&b, "\n%s: %s", cat.name, fmt.Sprintf(headline, title))
	}
	return b.String()
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		words[i] = strings.ToUpper(string(r[0])) + strings.ToLower(string(r[1:]))
	}
	return strings.Join(words, " ")
}
