package collab

import (
	"fmt"
	"sync"
)

// Collaboration modes accepted by start-task and collaboration-request
// events. Sequential hands work to the single best candidate; parallel fans
// out to every matched agent.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// normalizeMode maps an unset or unknown mode to the sequential default.
func normalizeMode(mode string) string {
	if mode == ModeParallel {
		return ModeParallel
	}
	return ModeSequential
}

// recipient pairs a matched agent with the delivery function of its
// connection.
type recipient struct {
	agentID string
	send    func(data []byte) error
}

// dispatchSequential delivers the frame to recipients in order and stops at
// the first delivery failure. It returns the agent IDs reached.
func dispatchSequential(recipients []recipient, frame []byte) ([]string, error) {
	delivered := make([]string, 0, len(recipients))
	for _, rcpt := range recipients {
		if err := rcpt.send(frame); err != nil {
			return delivered, fmt.Errorf("dispatch to agent %s failed: %w", rcpt.agentID, err)
		}
		delivered = append(delivered, rcpt.agentID)
	}

	return delivered, nil
}

// dispatchParallel delivers the frame to all recipients concurrently. Every
// delivery is attempted even when siblings fail; after all complete, the
// first error is returned alongside the agent IDs that were reached.
func dispatchParallel(recipients []recipient, frame []byte) ([]string, error) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered []string
	)
	errCh := make(chan error, len(recipients))

	for _, rcpt := range recipients {
		wg.Add(1)
		go func(rcpt recipient) {
			defer wg.Done()

			if err := rcpt.send(frame); err != nil {
				errCh <- fmt.Errorf("dispatch to agent %s failed: %w", rcpt.agentID, err)
				return
			}
			mu.Lock()
			delivered = append(delivered, rcpt.agentID)
			mu.Unlock()
		}(rcpt)
	}

	wg.Wait()
	close(errCh)

	if len(errCh) > 0 {
		return delivered, <-errCh
	}

	return delivered, nil
}

// dispatch routes to the mode-specific strategy. Sequential mode trims the
// recipient list to the first (least loaded) candidate.
func dispatch(mode string, recipients []recipient, frame []byte) ([]string, error) {
	if len(recipients) == 0 {
		return nil, ErrNoSuitableAgents
	}

	if normalizeMode(mode) == ModeSequential {
		recipients = recipients[:1]
		return dispatchSequential(recipients, frame)
	}

	return dispatchParallel(recipients, frame)
}
