package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle position of an ImageAsset.
type State int

const (
	// StateActive assets are visible in the storefront.
	StateActive State = iota
	// StatePendingDeletion assets are hidden and wait out the grace period.
	StatePendingDeletion
	// StatePurged assets have been removed from storage and from their product.
	StatePurged
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePendingDeletion:
		return "pending_deletion"
	case StatePurged:
		return "purged"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrInvalidAssetState is returned when a persisted descriptor has
// deleted and deletedAt out of step, or when a purged asset is encoded.
var ErrInvalidAssetState = errors.New("invalid image asset state")

// ImageAsset is one stored image belonging to exactly one product. The
// lifecycle fields are unexported so the only way into PendingDeletion is
// through markDeleted, which also records the time.
type ImageAsset struct {
	Key string
	URL string

	state State
	since time.Time
}

// NewImageAsset returns an active asset.
func NewImageAsset(key, url string) ImageAsset {
	return ImageAsset{Key: key, URL: url, state: StateActive}
}

// State returns the asset's lifecycle state.
func (a ImageAsset) State() State { return a.state }

// Deleted reports whether the asset has been soft-deleted.
func (a ImageAsset) Deleted() bool { return a.state == StatePendingDeletion }

// DeletedAt returns when the asset was soft-deleted. ok is false unless the
// asset is pending deletion.
func (a ImageAsset) DeletedAt() (t time.Time, ok bool) {
	if a.state != StatePendingDeletion {
		return time.Time{}, false
	}
	return a.since, true
}

// StorageKey returns the backend key, falling back to the final path
// segment of the URL for descriptors written without a key.
func (a ImageAsset) StorageKey() string {
	if a.Key != "" {
		return a.Key
	}
	return KeyFromURL(a.URL)
}

// markDeleted moves an active asset to PendingDeletion at now. It reports
// false when the asset was already pending, leaving deletedAt untouched.
func (a *ImageAsset) markDeleted(now time.Time) bool {
	if a.state != StateActive {
		return false
	}
	a.state = StatePendingDeletion
	a.since = now.UTC().Truncate(time.Microsecond)
	return true
}

// purgeableAt reports whether the asset is pending and was deleted at or
// before cutoff.
func (a ImageAsset) purgeableAt(cutoff time.Time) bool {
	return a.state == StatePendingDeletion && !a.since.After(cutoff)
}

// Purged returns a copy of the asset in the terminal Purged state.
func (a ImageAsset) Purged() ImageAsset {
	a.state = StatePurged
	a.since = time.Time{}
	return a
}

// KeyFromURL extracts the final path segment of url, ignoring any query
// string. It returns "" for an empty url or one ending in a slash.
func KeyFromURL(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}

// assetDoc is the persisted layout of one entry in products.images.
type assetDoc struct {
	Key       string     `json:"key,omitempty"`
	URL       string     `json:"url"`
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func (a ImageAsset) MarshalJSON() ([]byte, error) {
	doc := assetDoc{Key: a.Key, URL: a.URL}
	switch a.state {
	case StateActive:
	case StatePendingDeletion:
		since := a.since
		doc.Deleted = true
		doc.DeletedAt = &since
	default:
		return nil, fmt.Errorf("encoding %s asset %q: %w", a.state, a.Key, ErrInvalidAssetState)
	}
	return json.Marshal(doc)
}

func (a *ImageAsset) UnmarshalJSON(data []byte) error {
	var doc assetDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Deleted != (doc.DeletedAt != nil) {
		return fmt.Errorf("decoding asset %q: deleted=%t with deletedAt set=%t: %w",
			doc.Key, doc.Deleted, doc.DeletedAt != nil, ErrInvalidAssetState)
	}

	*a = ImageAsset{Key: doc.Key, URL: doc.URL, state: StateActive}
	if doc.Deleted {
		a.state = StatePendingDeletion
		a.since = doc.DeletedAt.UTC()
	}
	return nil
}
