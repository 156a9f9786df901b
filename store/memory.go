package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is the in-process ConfigStore. Group documents are guarded by
// one mutex; reads hand out copies so callers can never alias live state.
type MemoryStore struct {
	mu     sync.Mutex
	groups map[int64]*groupRecord
}

type groupRecord struct {
	name    string
	adminID int64
	policy  GroupPolicy
	log     []LogEntry // newest first
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups: make(map[int64]*groupRecord),
	}
}

func (s *MemoryStore) CreateGroup(_ context.Context, groupID int64, name string, adminID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; ok {
		return nil // registering twice is harmless
	}
	s.groups[groupID] = &groupRecord{
		name:    name,
		adminID: adminID,
		policy:  DefaultPolicy(),
	}
	return nil
}

func (s *MemoryStore) GetPolicy(_ context.Context, groupID int64) (GroupPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(groupID)
	if err != nil {
		return GroupPolicy{}, err
	}
	return copyPolicy(g.policy), nil
}

func (s *MemoryStore) UpdatePolicy(_ context.Context, groupID int64, update PolicyUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(groupID)
	if err != nil {
		return err
	}

	if update.AutoDelete != nil {
		g.policy.AutoDelete = *update.AutoDelete
	}
	if update.NotifyAdmins != nil {
		g.policy.NotifyAdmins = *update.NotifyAdmins
	}
	if update.NotifyUsers != nil {
		g.policy.NotifyUsers = *update.NotifyUsers
	}
	if update.PauseScan != nil {
		g.policy.PauseScan = *update.PauseScan
	}
	if update.Sensitivity != nil {
		if !update.Sensitivity.Valid() {
			return fmt.Errorf("unknown sensitivity %q", *update.Sensitivity)
		}
		g.policy.SpamSensitivity = *update.Sensitivity
	}
	if update.AddBlacklistUser != "" {
		g.policy.BlacklistUsers = appendUnique(g.policy.BlacklistUsers, update.AddBlacklistUser)
	}
	if update.RemoveBlacklistUser != "" {
		g.policy.BlacklistUsers = remove(g.policy.BlacklistUsers, update.RemoveBlacklistUser)
	}
	if update.AddBlacklistKeyword != "" {
		g.policy.BlacklistKeywords = appendUnique(g.policy.BlacklistKeywords, update.AddBlacklistKeyword)
	}
	if update.RemoveBlacklistKeyword != "" {
		g.policy.BlacklistKeywords = remove(g.policy.BlacklistKeywords, update.RemoveBlacklistKeyword)
	}
	if update.AddWhitelistUser != "" {
		g.policy.WhitelistUsers = appendUnique(g.policy.WhitelistUsers, update.AddWhitelistUser)
	}
	if update.AddModerator != "" {
		g.policy.Moderators = appendUnique(g.policy.Moderators, update.AddModerator)
	}
	if update.AddSkipFileExt != "" {
		g.policy.SkipFileExts = appendUnique(g.policy.SkipFileExts, update.AddSkipFileExt)
	}
	if update.AddSkipURLPrefix != "" {
		g.policy.SkipURLPrefixes = appendUnique(g.policy.SkipURLPrefixes, update.AddSkipURLPrefix)
	}
	return nil
}

func (s *MemoryStore) AppendLog(_ context.Context, groupID int64, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(groupID)
	if err != nil {
		return err
	}
	g.log = append([]LogEntry{entry}, g.log...)
	if len(g.log) > LogCap {
		g.log = g.log[:LogCap]
	}
	return nil
}

func (s *MemoryStore) History(_ context.Context, groupID int64) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(groupID)
	if err != nil {
		return nil, err
	}
	out := make([]LogEntry, len(g.log))
	copy(out, g.log)
	return out, nil
}

func (s *MemoryStore) IsAdmin(_ context.Context, groupID int64, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(groupID)
	if err != nil {
		return false, err
	}
	return g.adminID == userID, nil
}

func (s *MemoryStore) IsModerator(_ context.Context, groupID int64, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(groupID)
	if err != nil {
		return false, err
	}
	for _, mod := range g.policy.Moderators {
		if mod == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) group(groupID int64) (*groupRecord, error) {
	g, ok := s.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("group %d: %w", groupID, ErrUnknownGroup)
	}
	return g, nil
}

func copyPolicy(p GroupPolicy) GroupPolicy {
	out := p
	out.BlacklistUsers = append([]string(nil), p.BlacklistUsers...)
	out.BlacklistKeywords = append([]string(nil), p.BlacklistKeywords...)
	out.WhitelistUsers = append([]string(nil), p.WhitelistUsers...)
	out.Moderators = append([]string(nil), p.Moderators...)
	out.SkipFileExts = append([]string(nil), p.SkipFileExts...)
	out.SkipURLPrefixes = append([]string(nil), p.SkipURLPrefixes...)
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, existing := range list {
		if existing != v {
			out = append(out, existing)
		}
	}
	return out
}
