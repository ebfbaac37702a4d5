// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	storeMu   sync.Mutex
	storePath = defaultStorePath()
)

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".picoclaw", "auth.json")
}

// SetStorePath overrides where credentials are persisted, for tests and for
// a workspace that wants its own auth store instead of the user's home dir.
func SetStorePath(path string) {
	storeMu.Lock()
	defer storeMu.Unlock()
	storePath = path
}

type credentialFile struct {
	Credentials map[string]*AuthCredential `json:"credentials"`
}

func loadCredentialFile() (*credentialFile, error) {
	data, err := os.ReadFile(storePath)
	if os.IsNotExist(err) {
		return &credentialFile{Credentials: map[string]*AuthCredential{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential store: %w", err)
	}

	var f credentialFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing credential store: %w", err)
	}
	if f.Credentials == nil {
		f.Credentials = map[string]*AuthCredential{}
	}
	return &f, nil
}

func saveCredentialFile(f *credentialFile) error {
	if err := os.MkdirAll(filepath.Dir(storePath), 0700); err != nil {
		return fmt.Errorf("creating credential store directory: %w", err)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential store: %w", err)
	}

	tmp := storePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write temp credential file: %w", err)
	}
	if err := os.Rename(tmp, storePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp credential file: %w", err)
	}
	return nil
}

// GetCredential loads the stored credential for provider, or nil if none
// has been saved yet.
func GetCredential(provider string) (*AuthCredential, error) {
	storeMu.Lock()
	defer storeMu.Unlock()

	f, err := loadCredentialFile()
	if err != nil {
		return nil, err
	}
	return f.Credentials[provider], nil
}

// SetCredential persists cred under provider, overwriting any existing entry.
func SetCredential(provider string, cred *AuthCredential) error {
	storeMu.Lock()
	defer storeMu.Unlock()

	f, err := loadCredentialFile()
	if err != nil {
		return err
	}
	f.Credentials[provider] = cred
	return saveCredentialFile(f)
}

// RemoveCredential deletes the stored credential for provider, if any.
func RemoveCredential(provider string) error {
	storeMu.Lock()
	defer storeMu.Unlock()

	f, err := loadCredentialFile()
	if err != nil {
		return err
	}
	if _, ok := f.Credentials[provider]; !ok {
		return nil
	}
	delete(f.Credentials, provider)
	return saveCredentialFile(f)
}
