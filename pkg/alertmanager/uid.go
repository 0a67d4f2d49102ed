package alertmanager

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid"

	"github.com/cortexproject/amconfig/pkg/definitions"
)

const uidGenerationRetries = 5

var (
	uidEntropyMtx sync.Mutex
	uidEntropy    = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func newReceiverUID() string {
	uidEntropyMtx.Lock()
	defer uidEntropyMtx.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), uidEntropy).String()
}

// assignReceiverUIDs fills in a UID for every managed receiver that was
// submitted without one, keeping all UIDs in the document distinct. UIDs
// submitted by the caller are trusted as-is.
func assignReceiverUIDs(receivers []*definitions.PostableApiReceiver) error {
	seen := make(map[string]struct{})
	for _, recv := range receivers {
		for _, mr := range recv.ManagedReceivers {
			if mr.UID == "" {
				for attempt := 0; attempt < uidGenerationRetries; attempt++ {
					candidate := newReceiverUID()
					if _, taken := seen[candidate]; !taken {
						mr.UID = candidate
						break
					}
				}
				if mr.UID == "" {
					return fmt.Errorf("failed to generate distinct receiver uid after %d attempts", uidGenerationRetries)
				}
			}
			seen[mr.UID] = struct{}{}
		}
	}
	return nil
}
