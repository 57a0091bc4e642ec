package slacknotify

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
)

const userCacheTTL = 5 * time.Minute

type userDirectory struct {
	mu        sync.Mutex
	users     []slack.User
	fetchedAt time.Time
}

func (d *userDirectory) get(api API, now time.Time) ([]slack.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.users != nil && now.Sub(d.fetchedAt) < userCacheTTL {
		return d.users, nil
	}
	users, err := api.GetUsers()
	if err != nil {
		return nil, err
	}
	d.users = users
	d.fetchedAt = now
	return users, nil
}

// resolveContacts maps configured escalation contacts to Slack user IDs.
// Entries that already look like IDs are used as-is; names are matched
// against user name, real name and display name, case-insensitively.
func (n *Notifier) resolveContacts() ([]string, []string) {
	var ids, names []string
	for _, raw := range n.contacts {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if isLikelySlackID(val) {
			ids = append(ids, val)
		} else {
			names = append(names, val)
		}
	}
	if len(names) == 0 {
		return uniqueStrings(ids), nil
	}

	users, err := n.users.get(n.api, n.now())
	if err != nil {
		log.Printf("WARNING: slack resolve contacts: list users: %v", err)
		return uniqueStrings(ids), names
	}

	nameToID := make(map[string]string)
	for _, user := range users {
		for _, candidate := range []string{user.Name, user.RealName, user.Profile.DisplayName} {
			key := strings.ToLower(strings.TrimSpace(candidate))
			if key == "" {
				continue
			}
			if _, exists := nameToID[key]; !exists {
				nameToID[key] = user.ID
			}
		}
	}

	var unresolved []string
	for _, name := range names {
		if id, ok := nameToID[strings.ToLower(name)]; ok {
			ids = append(ids, id)
		} else {
			unresolved = append(unresolved, name)
		}
	}
	if len(unresolved) > 0 {
		log.Printf("WARNING: slack resolve contacts: unresolved=%s", strings.Join(unresolved, ","))
	}
	return uniqueStrings(ids), unresolved
}

func isLikelySlackID(val string) bool {
	if len(val) < 9 {
		return false
	}
	for i, r := range val {
		if i == 0 {
			if r != 'U' && r != 'W' {
				return false
			}
			continue
		}
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func uniqueStrings(vals []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range vals {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func mentionList(ids []string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = "<@" + id + ">"
	}
	return strings.Join(parts, " ")
}
