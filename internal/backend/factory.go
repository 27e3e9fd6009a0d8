// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package backend

// New creates the HTTP notebook API over a fresh, not yet authenticated Session.
func New(opts Options) (*HTTP, error) {
	s, err := NewSession(opts)
	if err != nil {
		return nil, err
	}
	return &HTTP{
		session:   s,
		endpoints: s.endpoints,
		log:       s.log,
	}, nil
}
