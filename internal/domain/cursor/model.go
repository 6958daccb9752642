package cursor

import (
	"fmt"
	"strings"
	"time"
)

// Position is a feed offset. Positions are totally ordered within one
// subscription.
type Position int64

// Beginning means nothing has been processed yet.
const Beginning Position = -1

func (p Position) IsBeginning() bool {
	return p < 0
}

func (p Position) String() string {
	if p.IsBeginning() {
		return "beginning"
	}
	return fmt.Sprintf("%d", int64(p))
}

// Subscription identifies one consumer of the event feed.
type Subscription struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Version   string `json:"version"`
}

func (s Subscription) Key() string {
	return s.Name + "@" + s.Namespace + "/" + s.Version
}

func (s Subscription) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("subscription name is required")
	}
	if strings.TrimSpace(s.Namespace) == "" {
		return fmt.Errorf("subscription namespace is required")
	}
	if strings.TrimSpace(s.Version) == "" {
		return fmt.Errorf("subscription version is required")
	}
	return nil
}

// Checkpoint is the persisted state of a subscription.
type Checkpoint struct {
	Subscription Subscription `json:"subscription"`
	Position     Position     `json:"position"`
	TxHash       string       `json:"tx_hash"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
