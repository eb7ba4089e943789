// Copyright 2024 The Algo Rumble Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpectedScoreEqualRatings(t *testing.T) {
	assert.InDelta(t, 0.5, ExpectedScore(1000, 1000), 0.0001)
}

func TestExpectedScoreSymmetry(t *testing.T) {
	e1 := ExpectedScore(1000, 1200)
	e2 := ExpectedScore(1200, 1000)
	assert.InDelta(t, 1.0, e1+e2, 0.0001)
	assert.True(t, e1 < e2)
}

func TestApplyResultUnderdogWin(t *testing.T) {
	newWinner, newLoser := ApplyResult(1000, 1200)
	assert.Equal(t, 1024, newWinner)
	assert.Equal(t, 1176, newLoser)
}

func TestApplyResultFavouriteWin(t *testing.T) {
	newWinner, newLoser := ApplyResult(1200, 1000)
	assert.Equal(t, 1208, newWinner)
	assert.Equal(t, 992, newLoser)
}

func TestApplyResultEqualRatings(t *testing.T) {
	newWinner, newLoser := ApplyResult(1000, 1000)
	assert.Equal(t, 1016, newWinner)
	assert.Equal(t, 984, newLoser)
}

func TestApplyDrawEqualRatingsUnchanged(t *testing.T) {
	new1, new2 := ApplyDraw(1500, 1500)
	assert.Equal(t, 1500, new1)
	assert.Equal(t, 1500, new2)
}

func TestApplyDrawMismatchedRatingsConverge(t *testing.T) {
	new1, new2 := ApplyDraw(1000, 1200)
	assert.True(t, new1 > 1000, "lower-rated player gains on a draw")
	assert.True(t, new2 < 1200, "higher-rated player loses on a draw")
	assert.Equal(t, new1-1000, 1200-new2, "shifts are symmetric")
}

func TestNewRatingTable(t *testing.T) {
	tests := []struct {
		name     string
		rating   int
		opponent int
		score    float64
		expected int
	}{
		{"win vs equal", 1000, 1000, 1, 1016},
		{"loss vs equal", 1000, 1000, 0, 984},
		{"draw vs equal", 1000, 1000, 0.5, 1000},
		{"win vs stronger", 1000, 1200, 1, 1024},
		{"loss vs weaker", 1200, 1000, 0, 1176},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NewRating(tt.rating, tt.opponent, tt.score))
		})
	}
}
