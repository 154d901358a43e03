package worker

import (
	"fmt"
	"time"
)

// Kind is the final classification of one artifact's pull.
type Kind int

const (
	Completed Kind = iota
	TransientFailure
	TerminalFailure
	MalformedEvent
)

var kindToStr = map[Kind]string{
	Completed:        "completed",
	TransientFailure: "transient",
	TerminalFailure:  "terminal",
	MalformedEvent:   "malformed",
}

func (k Kind) String() string {
	if s, ok := kindToStr[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for kind, s := range kindToStr {
		if s == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown outcome kind: %q", text)
}

// Outcome is the result of pulling one artifact. There is exactly one per
// requested artifact. Status and Reason are only set for failures. Status is the
// HTTP-like status of a service error, if there was one.
type Outcome struct {
	Artifact    string        `json:"image"`
	Kind        Kind          `json:"outcome"`
	Status      int           `json:"status,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Attempts    int           `json:"attempts"`
	Updates     int           `json:"updates"`
	Unparseable int           `json:"unparseable"`
	Elapsed     time.Duration `json:"elapsedNs"`
}

// Ok returns true if the pull completed.
func (o Outcome) Ok() bool {
	return o.Kind == Completed
}
