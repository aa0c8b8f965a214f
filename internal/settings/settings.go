// Package settings supplies per-clinic queue tunables.
//
// Values are stored as strings by a Source and decoded by Store, which
// implements Provider. A value set for uuid.Nil acts as the global default
// for every clinic that does not override it.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	KeyAllowWalkIns   = "queue.allow_walk_ins"
	KeyPriorityLevels = "queue.priority_levels"
	KeyAutoCallNext   = "queue.auto_call_next"
	KeyMaxWaitMinutes = "queue.max_wait_time_minutes"
)

const (
	DefaultAllowWalkIns   = true
	DefaultAutoCallNext   = false
	DefaultMaxWaitMinutes = 30
)

var (
	ErrUnknownKey   = errors.New("unknown setting")
	ErrInvalidValue = errors.New("invalid setting value")
)

// Keys lists the tunables the queue engine reads.
func Keys() []string {
	return []string{KeyAllowWalkIns, KeyPriorityLevels, KeyAutoCallNext, KeyMaxWaitMinutes}
}

// DefaultPriorityLevels returns a fresh copy so callers may modify it.
func DefaultPriorityLevels() []int {
	return []int{1, 2, 3, 4, 5}
}

// Provider is what the queue engine needs from configuration.
type Provider interface {
	GetBool(ctx context.Context, key string, def bool, clinicID uuid.UUID) bool
	GetInt(ctx context.Context, key string, def int, clinicID uuid.UUID) int
	GetList(ctx context.Context, key string, def []int, clinicID uuid.UUID) []int
}

// Source looks up the raw value of a key for one clinic.
type Source interface {
	Lookup(ctx context.Context, clinicID uuid.UUID, key string) (string, bool, error)
}

// Writer stores a raw value for one clinic, uuid.Nil being the global row.
type Writer interface {
	Put(ctx context.Context, clinicID uuid.UUID, key, value string) error
}

// Store decodes raw values from a Source, falling back to the global row
// and then to the caller's default.
type Store struct {
	src Source
}

func NewStore(src Source) *Store {
	return &Store{src: src}
}

func (s *Store) raw(ctx context.Context, key string, clinicID uuid.UUID) (string, bool) {
	v, ok, err := s.src.Lookup(ctx, clinicID, key)
	if err != nil {
		log.Printf("settings lookup failed key=%s clinic_id=%s: %v", key, clinicID, err)
		return "", false
	}
	if ok || clinicID == uuid.Nil {
		return v, ok
	}
	v, ok, err = s.src.Lookup(ctx, uuid.Nil, key)
	if err != nil {
		log.Printf("settings lookup failed key=%s clinic_id=global: %v", key, err)
		return "", false
	}
	return v, ok
}

func (s *Store) GetBool(ctx context.Context, key string, def bool, clinicID uuid.UUID) bool {
	v, ok := s.raw(ctx, key, clinicID)
	if !ok {
		return def
	}
	b, err := ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (s *Store) GetInt(ctx context.Context, key string, def int, clinicID uuid.UUID) int {
	v, ok := s.raw(ctx, key, clinicID)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func (s *Store) GetList(ctx context.Context, key string, def []int, clinicID uuid.UUID) []int {
	v, ok := s.raw(ctx, key, clinicID)
	if !ok {
		return def
	}
	list, err := ParseList(v)
	if err != nil || len(list) == 0 {
		return def
	}
	return list
}

func ParseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(v))
}

// ParseList accepts a JSON array ("[1,2,3]") or a comma separated list ("1,2,3").
func ParseList(v string) ([]int, error) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "[") {
		var out []int
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// FormatList is the inverse of ParseList, used when writing values.
func FormatList(values []int) string {
	parts := make([]string, len(values))
	for i, n := range values {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

// Normalize validates value for key and returns the canonical string to store.
func Normalize(key, value string) (string, error) {
	switch key {
	case KeyAllowWalkIns, KeyAutoCallNext:
		b, err := ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("%w: %s expects a boolean", ErrInvalidValue, key)
		}
		return strconv.FormatBool(b), nil
	case KeyMaxWaitMinutes:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return "", fmt.Errorf("%w: %s expects minutes >= 0", ErrInvalidValue, key)
		}
		return strconv.Itoa(n), nil
	case KeyPriorityLevels:
		list, err := ParseList(value)
		if err != nil || len(list) == 0 {
			return "", fmt.Errorf("%w: %s expects a list of integers", ErrInvalidValue, key)
		}
		for _, n := range list {
			if n < 1 {
				return "", fmt.Errorf("%w: priority levels must be positive", ErrInvalidValue)
			}
		}
		return FormatList(list), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
}

// Effective resolves every known key for a clinic, defaults included.
func Effective(ctx context.Context, p Provider, clinicID uuid.UUID) map[string]any {
	return map[string]any{
		KeyAllowWalkIns:   p.GetBool(ctx, KeyAllowWalkIns, DefaultAllowWalkIns, clinicID),
		KeyPriorityLevels: p.GetList(ctx, KeyPriorityLevels, DefaultPriorityLevels(), clinicID),
		KeyAutoCallNext:   p.GetBool(ctx, KeyAutoCallNext, DefaultAutoCallNext, clinicID),
		KeyMaxWaitMinutes: p.GetInt(ctx, KeyMaxWaitMinutes, DefaultMaxWaitMinutes, clinicID),
	}
}
