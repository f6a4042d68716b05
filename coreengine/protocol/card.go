package protocol

// AgentCard is the static descriptor an agent endpoint publishes for
// discovery. Label-to-address routing uses a fixed external registry; the
// card is informational.
type AgentCard struct {
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Version            string   `json:"version"`
	URL                string   `json:"url"`
	DefaultInputModes  []string `json:"default_input_modes"`
	DefaultOutputModes []string `json:"default_output_modes"`
	Skills             []Skill  `json:"skills"`
}

// Skill is one named capability listed on an agent card.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// NewAgentCard builds a card with the plain-text content modes every
// endpoint in this network supports.
func NewAgentCard(name, description, url string, skills ...Skill) AgentCard {
	return AgentCard{
		Name:               name,
		Description:        description,
		Version:            "1.0.0",
		URL:                url,
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills:             skills,
	}
}
