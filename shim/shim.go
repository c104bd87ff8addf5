// Package shim implements the external-interface shims: settings store, progress tracker, snackbar adapter, hash-based
// view router. Out of scope is the UI each backs; only the
// interfaces they present to the core are specified here.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package shim

import (
	"sync"

	"github.com/mokuroreader/corestore/model"
	"github.com/mokuroreader/corestore/store"
	"github.com/pkg/errors"
)

// Settings is a nested key/value store scoped to the current profile.
type Settings struct {
	db *store.DB
	mu sync.Mutex
}

func NewSettings(db *store.DB) *Settings { return &Settings{db: db} }

// Get reads one key from the current profile's settings bag.
func (s *Settings) Get(key string) (interface{}, bool, error) {
	p, err := s.db.CurrentProfile()
	if err != nil {
		return nil, false, errors.Wrap(err, "shim: current profile")
	}
	v, ok := p.Settings[key]
	return v, ok, nil
}

// Set writes one key into the current profile's settings bag.
func (s *Settings) Set(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.db.CurrentProfile()
	if err != nil {
		return errors.Wrap(err, "shim: current profile")
	}
	if p.Settings == nil {
		p.Settings = map[string]interface{}{}
	}
	p.Settings[key] = value
	return s.db.UpsertProfile(p, false)
}

// SwitchProfile marks name as the current profile, creating it (with
// empty settings) if it doesn't exist yet.
func (s *Settings) SwitchProfile(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.db.GetProfile(name)
	if err != nil {
		return err
	}
	if p == nil {
		p = &model.Profile{Name: name, Settings: map[string]interface{}{}}
	}
	return s.db.UpsertProfile(p, true)
}
