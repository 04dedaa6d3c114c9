package publish

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Listener is a callback function that receives events during a publish.
type Listener func(fmt.Stringer)

// serialized returns a Listener safe for concurrent use.
func (l Listener) serialized() Listener {
	if l == nil {
		return func(fmt.Stringer) {}
	}
	var mu sync.Mutex
	return func(e fmt.Stringer) {
		mu.Lock()
		defer mu.Unlock()
		l(e)
	}
}

func jsonString(v interface{}) string {
	b, _ := json.Marshal(map[string]interface{}{
		fmt.Sprintf("%T", v): v,
	})
	return string(b)
}

// EventPublishStart is emitted when a publication starts building.
type EventPublishStart struct {
	ID         string `json:"id"`
	Repository string `json:"repository,omitempty"`
	Version    int64  `json:"version,omitempty"`
	Simple     bool   `json:"simple,omitempty"`
	Structured bool   `json:"structured,omitempty"`
	Verbatim   bool   `json:"verbatim,omitempty"`
}

func (e EventPublishStart) String() string { return jsonString(e) }

// EventWarning is emitted for every skipped record.
type EventWarning struct {
	Distribution string `json:"distribution,omitempty"`
	Component    string `json:"component,omitempty"`
	Record       string `json:"record,omitempty"`
	Message      string `json:"message,omitempty"`
}

func (e EventWarning) String() string { return jsonString(e) }

// EventReleaseFinalized is emitted when the Release file of a distribution is written.
type EventReleaseFinalized struct {
	Distribution string `json:"distribution,omitempty"`
	Components   string `json:"components,omitempty"`
	Artifacts    int    `json:"artifacts,omitempty"`
	Signed       bool   `json:"signed,omitempty"`
}

func (e EventReleaseFinalized) String() string { return jsonString(e) }

// EventFileOperation is emitted when a pool file is placed in the tree.
type EventFileOperation struct {
	Path   string `json:"path,omitempty"`
	Digest string `json:"digest,omitempty"`
	Linked bool   `json:"linked,omitempty"`
	Copied bool   `json:"copied,omitempty"`
}

func (e EventFileOperation) String() string { return jsonString(e) }

// EventPublicationPromoted is emitted when the output symlink points to a new publication.
type EventPublicationPromoted struct {
	ID       string `json:"id"`
	Path     string `json:"path,omitempty"`
	Output   string `json:"output,omitempty"`
	Replaced string `json:"replaced,omitempty"`
}

func (e EventPublicationPromoted) String() string { return jsonString(e) }
