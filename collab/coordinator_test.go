package collab

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMode(t *testing.T) {
	assert.Equal(t, ModeSequential, normalizeMode(""))
	assert.Equal(t, ModeSequential, normalizeMode("round-robin"))
	assert.Equal(t, ModeSequential, normalizeMode(ModeSequential))
	assert.Equal(t, ModeParallel, normalizeMode(ModeParallel))
}

func okRecipient(id string, sink *[]string) recipient {
	return recipient{agentID: id, send: func([]byte) error {
		*sink = append(*sink, id)
		return nil
	}}
}

func failRecipient(id string) recipient {
	return recipient{agentID: id, send: func([]byte) error {
		return fmt.Errorf("send buffer full")
	}}
}

func TestDispatchSequentialStopsAtFirstFailure(t *testing.T) {
	var sent []string
	recipients := []recipient{
		okRecipient("a1", &sent),
		failRecipient("a2"),
		okRecipient("a3", &sent),
	}

	delivered, err := dispatchSequential(recipients, []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch to agent a2 failed")
	assert.Equal(t, []string{"a1"}, delivered)
	assert.Equal(t, []string{"a1"}, sent)
}

func TestDispatchParallelAttemptsAll(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []string
	)
	track := func(id string) recipient {
		return recipient{agentID: id, send: func([]byte) error {
			mu.Lock()
			sent = append(sent, id)
			mu.Unlock()
			if id == "a2" {
				return fmt.Errorf("send buffer full")
			}
			return nil
		}}
	}

	recipients := []recipient{track("a1"), track("a2"), track("a3")}
	delivered, err := dispatchParallel(recipients, []byte("{}"))

	// The failing sibling does not stop the others.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch to agent a2 failed")
	assert.Len(t, sent, 3)

	sort.Strings(delivered)
	assert.Equal(t, []string{"a1", "a3"}, delivered)
}

func TestDispatchParallelSuccess(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []string
	)
	track := func(id string) recipient {
		return recipient{agentID: id, send: func([]byte) error {
			mu.Lock()
			sent = append(sent, id)
			mu.Unlock()
			return nil
		}}
	}

	delivered, err := dispatchParallel([]recipient{track("a1"), track("a2")}, []byte("{}"))
	require.NoError(t, err)
	assert.Len(t, delivered, 2)
	assert.Len(t, sent, 2)
}

func TestDispatchSequentialTakesFirstCandidateOnly(t *testing.T) {
	var sent []string
	recipients := []recipient{okRecipient("a1", &sent), okRecipient("a2", &sent)}

	delivered, err := dispatch(ModeSequential, recipients, []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, delivered)
	assert.Equal(t, []string{"a1"}, sent)
}

func TestDispatchNoRecipients(t *testing.T) {
	_, err := dispatch(ModeParallel, nil, []byte("{}"))
	assert.True(t, errors.Is(err, ErrNoSuitableAgents))
}
