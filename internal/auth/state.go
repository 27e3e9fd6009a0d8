package auth

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the persisted login state.
type State struct {
	LoggedIn   bool      `json:"logged_in"`
	Account    string    `json:"account"`
	BaseURL    string    `json:"base_url"`
	LoggedInAt time.Time `json:"logged_in_at"`
}

// Load reads the login state. Missing state yields the zero value.
func (s *Service) Load() (State, error) {
	var st State
	data, err := s.secrets.LoadAuthState()
	if err != nil || len(data) == 0 {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode login state: %w", err)
	}
	return st, nil
}

func (s *Service) Save(st State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.secrets.SaveAuthState(b)
}

func (s *Service) Clear() error {
	return s.secrets.ClearAuthState()
}
