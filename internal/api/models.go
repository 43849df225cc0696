package api

import "encoding/json"

type Task struct {
	ID        int64            `json:"id"`
	Title     string           `json:"title"`
	Note      string           `json:"note,omitempty"`
	Completed bool             `json:"completed"`
	DueAt     *Timestamp       `json:"due_at,omitempty"`
	CreatedAt Timestamp        `json:"created_at"`
	UpdatedAt Timestamp        `json:"updated_at"`
	Metadata  map[string]Value `json:"metadata,omitempty"`
}

type TaskCreate struct {
	Title string     `json:"title"`
	Note  string     `json:"note,omitempty"`
	DueAt *Timestamp `json:"due_at,omitempty"`
}

type ChatModel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`
}

// defaultChatModelID is preferred when the server omits current_model but the
// model is among those available.
const defaultChatModelID = "gpt-4o"

// ChatModels describes the chat backends available to the account. The server
// side of this response evolves independently of the client, so decoding is
// deliberately lenient: a missing has_credentials flag means false, and a
// missing current_model resolves through the default model, then the first
// available model's name, then "unknown".
type ChatModels struct {
	Models         []ChatModel
	CurrentModel   string
	HasCredentials bool
}

func (m *ChatModels) UnmarshalJSON(data []byte) error {
	var raw struct {
		Models         []ChatModel `json:"models"`
		CurrentModel   *string     `json:"current_model"`
		HasCredentials *bool       `json:"has_credentials"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Models = raw.Models
	m.HasCredentials = raw.HasCredentials != nil && *raw.HasCredentials

	switch {
	case raw.CurrentModel != nil && *raw.CurrentModel != "":
		m.CurrentModel = *raw.CurrentModel
	case hasModel(raw.Models, defaultChatModelID):
		m.CurrentModel = defaultChatModelID
	case len(raw.Models) > 0:
		m.CurrentModel = raw.Models[0].Name
	default:
		m.CurrentModel = "unknown"
	}
	return nil
}

func hasModel(models []ChatModel, id string) bool {
	for _, m := range models {
		if m.ID == id {
			return true
		}
	}
	return false
}
