// Package event defines the status events produced by a pull stream and the
// classifier that turns them into ledger updates. The classifier is the only
// place that deals with absent fields.
package event

import (
	"fmt"

	"github.com/docker/docker/pkg/jsonmessage"
)

// ProgressDetail is the "progressDetail" object of a status event. Both fields
// are pointers so that an absent field can be told apart from a zero value.
type ProgressDetail struct {
	Current *int64 `json:"current,omitempty"`
	Total   *int64 `json:"total,omitempty"`
}

// RawEvent is one status record from a pull stream. The JSON shape is the one
// the Docker Engine emits for POST /images/create, e.g.:
//
//	{"status":"Downloading","progressDetail":{"current":1024,"total":4096},"id":"a1b2c3d4e5f6"}
type RawEvent struct {
	ID           string                 `json:"id,omitempty"`
	Status       string                 `json:"status,omitempty"`
	Progress     *ProgressDetail        `json:"progressDetail,omitempty"`
	Error        *jsonmessage.JSONError `json:"errorDetail,omitempty"`
	ErrorMessage string                 `json:"error,omitempty"`
	// Invalid is set by a stream decoder when a field of the record had the
	// wrong JSON type. The other fields are decoded as far as possible.
	Invalid string `json:"-"`
}

// Failed returns true if the event carries an error payload rather than status.
func (e RawEvent) Failed() bool {
	return e.Error != nil || e.ErrorMessage != ""
}

// Failure returns the code and message of an error payload. The code is zero if
// the producer did not supply one, which is common.
func (e RawEvent) Failure() (int, string) {
	if e.Error != nil {
		msg := e.Error.Message
		if msg == "" {
			msg = e.ErrorMessage
		}
		return e.Error.Code, msg
	}
	return 0, e.ErrorMessage
}

// Kind is the classification of a RawEvent.
type Kind int

const (
	Ignorable Kind = iota
	ProgressUpdate
	Unparseable
)

func (k Kind) String() string {
	switch k {
	case Ignorable:
		return "ignorable"
	case ProgressUpdate:
		return "progress"
	case Unparseable:
		return "unparseable"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Update is the payload of a ProgressUpdate classification.
type Update struct {
	ID          string
	Description string
	Total       int64
	Completed   int64
}

// Classification is the result of classifying one event. Update is populated
// only for ProgressUpdate, Reason only for Unparseable.
type Classification struct {
	Kind   Kind
	Update Update
	Reason string
}

// Classify maps the passed event from the stream of the passed artifact into a
// Classification. An event with no id or no progress detail is ignorable: the
// daemon sends many of those ("Pulling from", "Digest: ...", "Waiting", and
// also "Pull complete" with an empty progressDetail object). An event with an id
// and a partial progress detail is unparseable, as is an event with a field of
// the wrong type.
func Classify(artifact string, ev RawEvent) Classification {
	if ev.Invalid != "" {
		return unparseable(ev.Invalid)
	}
	if ev.ID == "" || ev.Progress == nil {
		return Classification{Kind: Ignorable}
	}
	p := ev.Progress
	if p.Current == nil && p.Total == nil {
		return Classification{Kind: Ignorable}
	}
	switch {
	case p.Total == nil:
		return unparseable("progressDetail has no total")
	case p.Current == nil:
		return unparseable("progressDetail has no current")
	case *p.Total < 0 || *p.Current < 0:
		return unparseable(fmt.Sprintf("negative progress %d/%d", *p.Current, *p.Total))
	case ev.Status == "":
		return unparseable("event has no status")
	}
	return Classification{
		Kind: ProgressUpdate,
		Update: Update{
			ID:          ev.ID,
			Description: Describe(artifact, ev.Status, ev.ID),
			Total:       *p.Total,
			Completed:   *p.Current,
		},
	}
}

// Describe builds the human-readable sub-task description.
func Describe(artifact, status, id string) string {
	return fmt.Sprintf("%s (%s: %s)", artifact, status, id)
}

func unparseable(reason string) Classification {
	return Classification{Kind: Unparseable, Reason: reason}
}
