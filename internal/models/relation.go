package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RelationKind is the kind of toggleable relation an actor holds on a post
type RelationKind string

const (
	KindLike   RelationKind = "like"
	KindRepost RelationKind = "repost"
)

// ErrUnknownKind is returned for a RelationKind other than KindLike and KindRepost
var ErrUnknownKind = errors.New("unknown relation kind")

// CounterField names a denormalized counter column on a post
type CounterField string

const (
	LikesCountField   CounterField = "likes_count"
	RepostsCountField CounterField = "reposts_count"
)

// ParseRelationKind converts a path or flag value into a RelationKind
func ParseRelationKind(s string) (RelationKind, error) {
	switch RelationKind(s) {
	case KindLike, KindRepost:
		return RelationKind(s), nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownKind, s)
}

// Valid reports whether k is one of the known kinds
func (k RelationKind) Valid() bool {
	return k == KindLike || k == KindRepost
}

// CounterField returns the post counter kept in step with this kind
func (k RelationKind) CounterField() (CounterField, error) {
	switch k {
	case KindLike:
		return LikesCountField, nil
	case KindRepost:
		return RepostsCountField, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownKind, string(k))
}

// Relation records that an actor likes or reposts a target post.
// At most one row exists per (ActorID, TargetID, Kind); toggles flip Active in place
// and bump Version, which orders cached answers.
type Relation struct {
	ID        string       `json:"id" gorm:"primaryKey;size:36" bson:"_id" firestore:"-"`
	ActorID   string       `json:"actor_id" gorm:"size:128;not null;uniqueIndex:idx_relation_tuple" bson:"actor_id" firestore:"actor_id"`
	TargetID  string       `json:"target_id" gorm:"size:64;not null;uniqueIndex:idx_relation_tuple;index" bson:"target_id" firestore:"target_id"`
	Kind      RelationKind `json:"kind" gorm:"size:16;not null;uniqueIndex:idx_relation_tuple" bson:"kind" firestore:"kind"`
	Active    bool         `json:"active" bson:"active" firestore:"active"`
	Version   int64        `json:"version" gorm:"not null;default:0" bson:"version" firestore:"version"`
	CreatedAt time.Time    `json:"created_at" bson:"created_at" firestore:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" bson:"updated_at" firestore:"updated_at"`
}

// ValidTargetID reports whether id can name a target. Ids containing ':' or '/'
// are rejected so that RelationKey stays unambiguous and usable as a document id.
func ValidTargetID(id string) bool {
	return id != "" && len(id) <= 64 && !strings.ContainsAny(id, ":/")
}

// RelationKey builds the deterministic document id used by the document stores
// and the cache. It is unique as long as targetID passes ValidTargetID.
func RelationKey(actorID, targetID string, kind RelationKind) string {
	return string(kind) + ":" + targetID + ":" + actorID
}

// ToggleRelationRequest defines the request body for toggling a relation
type ToggleRelationRequest struct {
	TargetID string `json:"targetId" validate:"required,max=64,excludesall=:/"`
}
