package session

import "fmt"

// Connector is a context source toggle. Its only effect is the reply trailer.
type Connector struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Connectors in display order
var connectorCatalog = []Connector{
	{ID: "filesystem", Name: "File system"},
	{ID: "web", Name: "Web search"},
	{ID: "database", Name: "Database"},
	{ID: "vision", Name: "Vision API"},
	{ID: "audio", Name: "Audio processing"},
}

// DefaultActiveConnectors are switched on for a new session
var DefaultActiveConnectors = []string{"filesystem", "web"}

// ConnectorIDs returns the ids of the catalog
func ConnectorIDs() []string {
	ids := make([]string, 0, len(connectorCatalog))
	for _, c := range connectorCatalog {
		ids = append(ids, c.ID)
	}
	return ids
}

func connectorSet(ids []string) (map[string]bool, error) {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !isConnector(id) {
			return nil, fmt.Errorf("unknown connector: %s", id)
		}
		set[id] = true
	}
	return set, nil
}

func isConnector(id string) bool {
	for _, c := range connectorCatalog {
		if c.ID == id {
			return true
		}
	}
	return false
}
