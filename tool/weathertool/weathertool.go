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

// Package weathertool generates lightweight mock weather reports. It
// exists so the agent has a general-purpose tool outside the knowledge
// base without requiring an external weather API key.
package weathertool

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/deskmate-ai/deskmate/tool"
	"github.com/deskmate-ai/deskmate/tool/functiontool"
)

var conditions = []string{
	"clear skies with a gentle breeze",
	"scattered clouds drifting through",
	"light rain showers on and off",
	"bright sunshine with a few clouds",
	"overcast with a chance of drizzle",
	"misty morning clearing by noon",
}

// Args are the forecast parameters.
type Args struct {
	Location string `json:"location" jsonschema:"required,description=City or place to report the weather for"`
}

// New creates the get_weather tool. A nil rng falls back to a
// time-seeded source.
func New(rng *rand.Rand) (tool.Tool, error) {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return functiontool.New(
		functiontool.Config{
			Name:        "get_weather",
			Description: "Get the current weather forecast for a location.",
		},
		func(_ context.Context, args Args) (any, error) {
			place := strings.TrimSpace(args.Location)
			if place == "" {
				return "Please tell me which location you would like the weather for.", nil
			}
			return Forecast(rng, place), nil
		},
	)
}

// Forecast renders a report for place using rng for the variable parts.
func Forecast(rng *rand.Rand, place string) string {
	condition := conditions[rng.Intn(len(conditions))]
	temp := 12 + rng.Intn(21)     // 12..32 C
	humidity := 30 + rng.Intn(61) // 30..90 %
	return fmt.Sprintf("Forecast for %s: %s. Expect around %d°C with humidity near %d%%.",
		place, condition, temp, humidity)
}
