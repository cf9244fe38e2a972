// Package server persists user credentials in an append-only flat file and
// verifies passwords against their stored salted hashes.
package server

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const saltLength = 16

// ErrIdentifierTaken is returned by Register when the identifier already
// has a credential record.
var ErrIdentifierTaken = errors.New("identifier already taken")

// credentialRecord is one parsed line of the store file:
// identifier::hash(base64)::salt(base64)::displayName::email
type credentialRecord struct {
	identifier  string
	hash        string
	salt        string
	displayName string
	email       string
}

// CredentialStore owns the credential file. Records are immutable once
// written: there is no update or delete path. Every operation holds the
// store's mutex so a register's check-then-append sequence can never
// interleave with another register or lookup.
//
// Passwords are stored as base64(SHA256(salt ++ password)) with a random
// per-user salt. Known hardening gaps, kept to preserve the documented
// store format: single-pass hash without stretching, non-constant-time
// comparison, no attempt rate limiting.
type CredentialStore struct {
	mu   sync.Mutex
	path string
}

// NewCredentialStore returns a store backed by the file at path. The file
// is created lazily on the first registration.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Register creates a credential record for the identifier. It returns
// ErrIdentifierTaken when a record already exists. The caller is expected
// to have validated all fields against the record delimiter already.
func (cs *CredentialStore) Register(identifier, password, displayName, email string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	existing, err := cs.findRecord(identifier)
	if err != nil {
		return fmt.Errorf("scanning credential store: %w", err)
	}
	if existing != nil {
		return ErrIdentifierTaken
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}

	record := strings.Join([]string{
		identifier,
		hashPassword(password, salt),
		base64.StdEncoding.EncodeToString(salt),
		displayName,
		email,
	}, fieldDelimiter)

	if err := cs.appendRecord(record); err != nil {
		return fmt.Errorf("appending credential record: %w", err)
	}

	slog.Info("registered new user", "user", identifier)
	return nil
}

// Authenticate recomputes the hash of the supplied password with the stored
// salt and compares it to the stored hash. It returns false for unknown
// identifiers, undecodable salts, and store read failures alike.
func (cs *CredentialStore) Authenticate(identifier, password string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	record, err := cs.findRecord(identifier)
	if err != nil {
		slog.Error("credential lookup failed", "user", identifier, "error", err)
		return false
	}
	if record == nil {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(record.salt)
	if err != nil {
		slog.Error("stored salt is not valid base64", "user", identifier, "error", err)
		return false
	}

	return hashPassword(password, salt) == record.hash
}

// Exists reports whether the identifier has a credential record.
func (cs *CredentialStore) Exists(identifier string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	record, err := cs.findRecord(identifier)
	if err != nil {
		slog.Error("credential lookup failed", "user", identifier, "error", err)
		return false
	}
	return record != nil
}

// DisplayNameOf returns the display name recorded for the identifier,
// falling back to the identifier itself when the lookup fails. It is used
// for greeting text only.
func (cs *CredentialStore) DisplayNameOf(identifier string) string {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	record, err := cs.findRecord(identifier)
	if err != nil || record == nil {
		return identifier
	}
	return record.displayName
}

// findRecord scans the store linearly for the first record matching the
// identifier. Malformed lines are skipped rather than treated as fatal.
// Callers must hold cs.mu.
func (cs *CredentialStore) findRecord(identifier string) (*credentialRecord, error) {
	file, err := os.Open(cs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("closing credential store file", "error", cerr)
		}
	}()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		record, ok := parseRecord(scanner.Text())
		if !ok {
			slog.Warn("skipping malformed credential record", "path", cs.path)
			continue
		}
		if record.identifier == identifier {
			return record, nil
		}
	}
	return nil, scanner.Err()
}

// appendRecord writes one record line to the end of the store file.
// Callers must hold cs.mu.
func (cs *CredentialStore) appendRecord(record string) error {
	file, err := os.OpenFile(cs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	if _, err := file.WriteString(record + "\n"); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func parseRecord(line string) (*credentialRecord, bool) {
	parts := strings.Split(line, fieldDelimiter)
	if len(parts) < 5 {
		return nil, false
	}
	return &credentialRecord{
		identifier:  parts[0],
		hash:        parts[1],
		salt:        parts[2],
		displayName: parts[3],
		email:       parts[4],
	}, true
}

func hashPassword(password string, salt []byte) string {
	digest := sha256.New()
	digest.Write(salt)
	digest.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(digest.Sum(nil))
}
