package trial

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/oranbench/gridrunner/iox"
	"github.com/oranbench/gridrunner/trialerr"
)

// ClientAssignment maps one client to its traffic profile script.
type ClientAssignment struct {
	// Client is the client identifier, e.g. "UE1".
	Client string
	// ProfilePath is the absolute path of the assigned traffic profile.
	ProfilePath string
}

// Param is one key-value condition parameter, order-preserving.
type Param struct {
	Key   string
	Value string
}

// Conditions is the parsed conditions manifest for one trial: the
// client-to-profile assignment, the generator parameters the manifest was
// produced with, and the channel parameters for the radio simulation.
type Conditions struct {
	// Clients are the client-profile assignments, in file order.
	Clients []ClientAssignment
	// Generator holds the generator parameters (seed, p).
	Generator []Param
	// Channel holds the channel parameters, in file order.
	Channel []Param
}

// ClientNames returns the client identifiers in file order.
func (c *Conditions) ClientNames() []string {
	names := make([]string, 0, len(c.Clients))
	for _, a := range c.Clients {
		names = append(names, a.Client)
	}
	return names
}

// generatorKeys are the keys belonging to the generator parameters section.
var generatorKeys = map[string]bool{"seed": true, "p": true}

// ParseConditions reads a conditions manifest.
//
// The manifest is sectioned CSV: a `UE,Profile` header followed by
// assignment rows, then comment-introduced key-value sections for generator
// and channel parameters. Blank lines and `#` comments separate sections.
func ParseConditions(path string) (*Conditions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, trialerr.Wrap(trialerr.ErrPreflightFailure, "conditions",
			fmt.Errorf("conditions manifest %s missing", path))
	}
	defer iox.DiscardClose(f)

	r := csv.NewReader(f)
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, trialerr.Wrap(trialerr.ErrPreflightFailure, "conditions",
			fmt.Errorf("parse %s: %w", path, err))
	}
	if len(records) == 0 {
		return nil, trialerr.Wrap(trialerr.ErrPreflightFailure, "conditions",
			fmt.Errorf("%s is empty", path))
	}

	// First row must be the assignment header.
	header := records[0]
	if len(header) < 2 || !strings.EqualFold(header[0], "UE") {
		return nil, trialerr.Wrap(trialerr.ErrPreflightFailure, "conditions",
			fmt.Errorf("%s: unexpected header %v, want UE,<profile>", path, header))
	}

	conds := &Conditions{}
	for _, rec := range records[1:] {
		if len(rec) < 2 || rec[0] == "" {
			continue
		}
		key, value := rec[0], rec[1]
		switch {
		case strings.HasPrefix(strings.ToUpper(key), "UE"):
			conds.Clients = append(conds.Clients, ClientAssignment{
				Client:      key,
				ProfilePath: value,
			})
		case generatorKeys[key]:
			conds.Generator = append(conds.Generator, Param{Key: key, Value: value})
		default:
			conds.Channel = append(conds.Channel, Param{Key: key, Value: value})
		}
	}

	return conds, nil
}
