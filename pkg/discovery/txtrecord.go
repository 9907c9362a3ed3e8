package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// mDNS service parameters.
const (
	// ServiceType is the DNS-SD service type of based hubs.
	ServiceType = "_based._tcp"

	// Domain is the mDNS domain.
	Domain = "local"
)

// TXT record keys.
const (
	TXTKeyOrg     = "org"
	TXTKeyProject = "project"
	TXTKeyEnv     = "env"
	TXTKeyName    = "name"
	TXTKeyKey     = "key"
	TXTKeyPath    = "path"
	TXTKeyTLS     = "tls"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// HubInfo is what a hub advertises about itself.
type HubInfo struct {
	Org     string
	Project string
	Env     string
	Name    string
	Key     string
	Path    string
	TLS     bool
}

// EncodeHubTXT creates TXT records for a hub.
func EncodeHubTXT(info *HubInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyOrg:     info.Org,
		TXTKeyProject: info.Project,
		TXTKeyEnv:     info.Env,
		TXTKeyName:    info.Name,
	}
	if info.Key != "" {
		txt[TXTKeyKey] = info.Key
	}
	if info.Path != "" {
		txt[TXTKeyPath] = info.Path
	}
	if info.TLS {
		txt[TXTKeyTLS] = "1"
	}
	return txt
}

// DecodeHubTXT parses TXT records advertised by a hub.
func DecodeHubTXT(txt TXTRecordMap) (*HubInfo, error) {
	info := &HubInfo{
		Key:  txt[TXTKeyKey],
		Path: txt[TXTKeyPath],
		TLS:  txt[TXTKeyTLS] == "1",
	}
	for key, dst := range map[string]*string{
		TXTKeyOrg:     &info.Org,
		TXTKeyProject: &info.Project,
		TXTKeyEnv:     &info.Env,
		TXTKeyName:    &info.Name,
	} {
		v, ok := txt[key]
		if !ok || v == "" {
			return nil, fmt.Errorf("missing TXT record %q", key)
		}
		*dst = v
	}
	return info, nil
}

// Matches reports whether the hub serves q. A hub without a key matches
// a query with an optional key.
func (h *HubInfo) Matches(q Query) bool {
	if h.Org != q.Org || h.Project != q.Project || h.Env != q.Env || h.Name != q.name() {
		return false
	}
	if q.Key == "" || h.Key == q.Key {
		return true
	}
	return q.OptionalKey && h.Key == ""
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}
