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
	"encoding/json"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQueueEntries(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	data, err := json.Marshal(&QueueEntry{UserID: userID, Rating: 1200, EnqueuedAt: 1700000000})
	require.NoError(t, err)

	entries := parseQueueEntries(testLogger(), []string{string(data)})
	require.Len(t, entries, 1)
	assert.Equal(t, userID, entries[0].UserID)
	assert.Equal(t, 1200, entries[0].Rating)
	assert.Equal(t, int64(1700000000), entries[0].EnqueuedAt)
}

func TestParseQueueEntriesSkipsCorruptMembers(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	data, err := json.Marshal(&QueueEntry{UserID: userID, Rating: 1000, EnqueuedAt: 1})
	require.NoError(t, err)

	entries := parseQueueEntries(testLogger(), []string{"not json", string(data), "{broken"})
	require.Len(t, entries, 1)
	assert.Equal(t, userID, entries[0].UserID)
}

func TestParseQueueEntriesEmpty(t *testing.T) {
	entries := parseQueueEntries(testLogger(), nil)
	assert.Empty(t, entries)
}
