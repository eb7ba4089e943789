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

import "math"

// KFactor is the Elo sensitivity applied to every rated match.
const KFactor = 32

// ExpectedScore returns the probability of the first player winning under
// the Elo model.
func ExpectedScore(rating, opponentRating int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(opponentRating-rating)/400.0))
}

// NewRating applies one match result to a rating. Score is 1 for a win,
// 0.5 for a draw and 0 for a loss.
func NewRating(rating, opponentRating int, score float64) int {
	expected := ExpectedScore(rating, opponentRating)
	return rating + int(math.Round(KFactor*(score-expected)))
}

// ApplyResult computes both players' post-match ratings for a decisive result.
func ApplyResult(winnerRating, loserRating int) (newWinnerRating, newLoserRating int) {
	return NewRating(winnerRating, loserRating, 1), NewRating(loserRating, winnerRating, 0)
}

// ApplyDraw computes both players' post-match ratings for a draw.
func ApplyDraw(rating1, rating2 int) (newRating1, newRating2 int) {
	return NewRating(rating1, rating2, 0.5), NewRating(rating2, rating1, 0.5)
}
