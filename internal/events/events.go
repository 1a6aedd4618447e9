package events

import (
	"context"
	"time"

	"github.com/anonto42/nano-midea/engagement/internal/models"
)

// RelationToggled is the subject relation events are published on
const RelationToggled = "relations.toggled"

// RelationToggledEvent is emitted after a toggle commits
type RelationToggledEvent struct {
	ActorID   string              `json:"actorId"`
	TargetID  string              `json:"targetId"`
	Kind      models.RelationKind `json:"kind"`
	Active    bool                `json:"active"`
	Count     int                 `json:"count"`
	Timestamp time.Time           `json:"timestamp"`
}

// Publisher delivers relation events. Delivery is best effort.
type Publisher interface {
	PublishRelationToggled(ctx context.Context, event RelationToggledEvent) error
}
