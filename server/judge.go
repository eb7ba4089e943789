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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

var supportedLanguages = map[string]struct{}{
	"python": {},
	"cpp":    {},
	"java":   {},
	"go":     {},
}

// IsLanguageSupported reports whether a submission language is accepted
// before any judge call is made.
func IsLanguageSupported(language string) bool {
	_, found := supportedLanguages[language]
	return found
}

// Judge evaluates a code submission against a problem and returns whether it
// passed. The call may be long-running and must never be made while holding
// a match lock.
type Judge interface {
	Verdict(ctx context.Context, problemID uuid.UUID, language, source string) (bool, error)
}

type httpJudge struct {
	logger  *zap.Logger
	address string
	client  *http.Client
}

func NewHTTPJudge(logger *zap.Logger, config Config) Judge {
	return &httpJudge{
		logger:  logger,
		address: config.GetJudge().Address,
		client: &http.Client{
			Timeout: time.Duration(config.GetJudge().TimeoutMs) * time.Millisecond,
		},
	}
}

type judgeRequest struct {
	ProblemID string `json:"problem_id"`
	Language  string `json:"language"`
	Source    string `json:"source"`
}

type judgeResponse struct {
	Passed bool `json:"passed"`
}

func (j *httpJudge) Verdict(ctx context.Context, problemID uuid.UUID, language, source string) (bool, error) {
	body, err := json.Marshal(&judgeRequest{
		ProblemID: problemID.String(),
		Language:  language,
		Source:    source,
	})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.address+"/judge", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		j.logger.Error("Judge request failed", zap.String("problem_id", problemID.String()), zap.Error(err))
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("judge returned status %d", resp.StatusCode)
	}

	var verdict judgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return false, err
	}
	return verdict.Passed, nil
}
